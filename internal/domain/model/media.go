package model

import (
	"errors"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a file by its media type.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindOther Kind = "other"
)

func (k Kind) String() string { return string(k) }

// Variant identifies which physical rendition of a logical upload an object is.
type Variant string

const (
	VariantSource Variant = "source"
	VariantMin    Variant = "min"
	VariantThumb  Variant = "thumb"
)

// Key directories per variant. The layout inside a bucket is fixed so that
// derived objects can always be located from the canonical basename.
const (
	SourceDir = "source"
	MinDir    = "min"
	ThumbDir  = "thumb"
)

var (
	ErrMalformedPath = errors.New("object path must be of the form bucket/key")
	ErrNoOriginTime  = errors.New("basename carries no millisecond timestamp")
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".svg": true, ".bmp": true, ".pic": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
}

// KindOf classifies a filename by its extension.
func KindOf(name string) Kind {
	ext := strings.ToLower(path.Ext(name))
	switch {
	case imageExts[ext]:
		return KindImage
	case videoExts[ext]:
		return KindVideo
	default:
		return KindOther
	}
}

// ObjectPath locates one object as bucket plus key.
type ObjectPath struct {
	Bucket string
	Key    string
}

func (p ObjectPath) String() string {
	return p.Bucket + "/" + p.Key
}

func (p ObjectPath) IsZero() bool {
	return p.Bucket == "" && p.Key == ""
}

// ParseObjectPath parses a "bucket/key" string as stored in object tags.
func ParseObjectPath(s string) (ObjectPath, error) {
	bucket, key, ok := strings.Cut(s, "/")
	if !ok || bucket == "" || key == "" {
		return ObjectPath{}, ErrMalformedPath
	}
	return ObjectPath{Bucket: bucket, Key: key}, nil
}

// MediaObject is a physical artifact stored at an object path.
type MediaObject struct {
	Path       ObjectPath
	Kind       Kind
	Basename   string
	OriginTime time.Time
	Variant    Variant
}

// SourceKey returns the storage key of the source variant for a basename.
func SourceKey(basename string) string { return SourceDir + "/" + basename }

// MinKey returns the storage key of the compressed variant for a basename.
func MinKey(basename string) string { return MinDir + "/" + basename }

// ThumbKey returns the storage key of the thumbnail variant for a basename.
func ThumbKey(basename string) string { return ThumbDir + "/" + basename }

// cameraNameRe matches the camera naming pattern <epoch-seconds>_<yyyymmdd>_...
var cameraNameRe = regexp.MustCompile(`^(\d{10})_\d{8}_`)

// originStampRe is the accepted origin-time grammar: exactly 13 digits
// (a Unix millisecond timestamp). Anything else is rejected rather than
// coerced.
var originStampRe = regexp.MustCompile(`^\d{13}$`)

// CanonicalBasename derives the canonical name an upload is stored under.
// Names following the camera pattern are normalized to their millisecond
// timestamp plus the original extension; everything else keeps its name
// behind a type prefix.
func CanonicalBasename(original string, kind Kind) string {
	ext := path.Ext(original)
	if m := cameraNameRe.FindStringSubmatch(original); m != nil {
		secs, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return strconv.FormatInt(secs*1000, 10) + ext
		}
	}
	switch kind {
	case KindVideo:
		return "VIDEO__" + original
	default:
		return "IMG__" + original
	}
}

// OriginTime extracts the embedded millisecond timestamp from a canonical
// basename. The stem, or the segment after the last "__", must match the
// origin-time grammar exactly; non-matching names return ErrNoOriginTime.
func OriginTime(basename string) (time.Time, error) {
	stem := strings.TrimSuffix(path.Base(basename), path.Ext(basename))
	if i := strings.LastIndex(stem, "__"); i >= 0 {
		stem = stem[i+2:]
	}
	if !originStampRe.MatchString(stem) {
		return time.Time{}, ErrNoOriginTime
	}
	ms, err := strconv.ParseInt(stem, 10, 64)
	if err != nil {
		return time.Time{}, ErrNoOriginTime
	}
	return time.UnixMilli(ms), nil
}

// OthersBucket holds non-media files verbatim. It is not prefixed because it
// predates the group scheme and other tools read it by this name.
const OthersBucket = "others"

// Buckets derives the bucket namespace from a configurable group prefix.
type Buckets struct {
	Prefix string
}

// DefaultBucketPrefix matches the bucket names existing deployments use.
const DefaultBucketPrefix = "ms"

func NewBuckets(prefix string) Buckets {
	if prefix == "" {
		prefix = DefaultBucketPrefix
	}
	return Buckets{Prefix: prefix}
}

// NoGroup is the intake bucket for images awaiting classification.
func (b Buckets) NoGroup() string { return b.Prefix + "-nogroup" }

// Other holds items in which no face was found.
func (b Buckets) Other() string { return b.Prefix + "-other" }

// NeedRecognition holds items with at least one unconfident face match.
func (b Buckets) NeedRecognition() string { return b.Prefix + "-needrecognition" }

// Video is the intake bucket for video sources.
func (b Buckets) Video() string { return b.Prefix + "-video" }

// Subject returns the bucket name for a recognized subject.
func (b Buckets) Subject(subject string) string {
	return b.Prefix + "-" + strings.ToLower(subject)
}
