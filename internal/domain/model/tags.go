package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Persisted tag keys. These are a wire-level contract: other tools read the
// same tags, so the keys (including the historical "orginTime" spelling) must
// not change.
const (
	TagSource     = "source"
	TagRefs       = "refs"
	TagMini       = "mini"
	TagOriginTime = "orginTime"
	TagWidth      = "width"
	TagHeight     = "height"
)

var (
	ErrTagMissing   = errors.New("required tag is missing")
	ErrTagMalformed = errors.New("tag value is malformed")
)

// Tags is the key-value tag set attached to one object.
type Tags map[string]string

// Source returns the canonical object path this object points back to.
func (t Tags) Source() (ObjectPath, error) {
	v, ok := t[TagSource]
	if !ok || v == "" {
		return ObjectPath{}, fmt.Errorf("%w: %s", ErrTagMissing, TagSource)
	}
	p, err := ParseObjectPath(v)
	if err != nil {
		return ObjectPath{}, fmt.Errorf("%w: %s=%q", ErrTagMalformed, TagSource, v)
	}
	return p, nil
}

func (t Tags) SetSource(p ObjectPath) {
	t[TagSource] = p.String()
}

// Refs parses the refs tag into a set. A missing tag is an empty set.
func (t Tags) Refs() RefSet {
	return ParseRefSet(t[TagRefs])
}

func (t Tags) SetRefs(refs RefSet) {
	if refs.Len() == 0 {
		delete(t, TagRefs)
		return
	}
	t[TagRefs] = refs.String()
}

// Mini returns the path of the compressed variant, if one was recorded.
func (t Tags) Mini() (ObjectPath, bool) {
	v, ok := t[TagMini]
	if !ok || v == "" {
		return ObjectPath{}, false
	}
	p, err := ParseObjectPath(v)
	if err != nil {
		return ObjectPath{}, false
	}
	return p, true
}

func (t Tags) SetMini(p ObjectPath) {
	t[TagMini] = p.String()
}

// OriginTime returns the recorded origin timestamp (epoch milliseconds).
func (t Tags) OriginTime() (time.Time, bool) {
	v, ok := t[TagOriginTime]
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (t Tags) SetOriginTime(ts time.Time) {
	t[TagOriginTime] = strconv.FormatInt(ts.UnixMilli(), 10)
}

func (t Tags) SetDimensions(width, height int) {
	t[TagWidth] = strconv.Itoa(width)
	t[TagHeight] = strconv.Itoa(height)
}

// Clone returns an independent copy of the tag set.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// RefSet is the duplicate-free, order-preserving set of classified-copy paths
// recorded on a canonical object. Its string form is the comma-separated refs
// tag value.
type RefSet struct {
	paths []string
}

// ParseRefSet parses a comma-separated refs tag value, dropping empty
// segments and duplicates while preserving first-seen order.
func ParseRefSet(s string) RefSet {
	var set RefSet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		set.add(part)
	}
	return set
}

func (r *RefSet) add(path string) bool {
	for _, p := range r.paths {
		if p == path {
			return false
		}
	}
	r.paths = append(r.paths, path)
	return true
}

// Add inserts a path, returning false if it was already present.
func (r *RefSet) Add(p ObjectPath) bool {
	return r.add(p.String())
}

// Remove deletes a path, returning false if it was not present.
func (r *RefSet) Remove(p ObjectPath) bool {
	s := p.String()
	for i, existing := range r.paths {
		if existing == s {
			r.paths = append(r.paths[:i], r.paths[i+1:]...)
			return true
		}
	}
	return false
}

func (r RefSet) Contains(p ObjectPath) bool {
	s := p.String()
	for _, existing := range r.paths {
		if existing == s {
			return true
		}
	}
	return false
}

func (r RefSet) Len() int { return len(r.paths) }

func (r RefSet) Empty() bool { return len(r.paths) == 0 }

// Paths returns the member paths in insertion order.
func (r RefSet) Paths() []string {
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	return out
}

func (r RefSet) String() string {
	return strings.Join(r.paths, ",")
}
