package model

import (
	"errors"
	"testing"
	"time"
)

func TestTagsSource(t *testing.T) {
	tests := []struct {
		name    string
		tags    Tags
		want    ObjectPath
		wantErr error
	}{
		{
			name: "valid source",
			tags: Tags{TagSource: "ms-nogroup/source/a.jpg"},
			want: ObjectPath{Bucket: "ms-nogroup", Key: "source/a.jpg"},
		},
		{name: "missing", tags: Tags{}, wantErr: ErrTagMissing},
		{name: "empty value", tags: Tags{TagSource: ""}, wantErr: ErrTagMissing},
		{name: "malformed", tags: Tags{TagSource: "nokey"}, wantErr: ErrTagMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.tags.Source()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRefSetParseDeduplicates(t *testing.T) {
	set := ParseRefSet("a/x,b/y,a/x,,c/z")

	if set.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", set.Len())
	}
	if got := set.String(); got != "a/x,b/y,c/z" {
		t.Errorf("String() = %q", got)
	}
}

func TestRefSetAddIsIdempotent(t *testing.T) {
	var set RefSet
	p := ObjectPath{Bucket: "ms-alice", Key: "thumb/a.jpg"}

	if !set.Add(p) {
		t.Fatal("first Add returned false")
	}
	if set.Add(p) {
		t.Fatal("second Add returned true, entry duplicated")
	}
	if set.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", set.Len())
	}
}

func TestRefSetRemove(t *testing.T) {
	set := ParseRefSet("ms-alice/thumb/a.jpg,ms-bob/thumb/a.jpg")
	p := ObjectPath{Bucket: "ms-alice", Key: "thumb/a.jpg"}

	if !set.Remove(p) {
		t.Fatal("Remove returned false for present entry")
	}
	if set.Remove(p) {
		t.Fatal("Remove returned true for absent entry")
	}
	if set.Empty() {
		t.Fatal("set should still hold one entry")
	}
	if got := set.String(); got != "ms-bob/thumb/a.jpg" {
		t.Errorf("String() = %q", got)
	}
}

func TestTagsRefsRoundTrip(t *testing.T) {
	tags := Tags{}
	refs := tags.Refs()
	if !refs.Empty() {
		t.Fatal("missing refs tag should parse as empty set")
	}

	refs.Add(ObjectPath{Bucket: "ms-alice", Key: "thumb/a.jpg"})
	tags.SetRefs(refs)
	if tags[TagRefs] != "ms-alice/thumb/a.jpg" {
		t.Errorf("refs tag = %q", tags[TagRefs])
	}

	refs.Remove(ObjectPath{Bucket: "ms-alice", Key: "thumb/a.jpg"})
	tags.SetRefs(refs)
	if _, ok := tags[TagRefs]; ok {
		t.Error("empty refs set should remove the tag")
	}
}

func TestTagsOriginTime(t *testing.T) {
	tags := Tags{}
	if _, ok := tags.OriginTime(); ok {
		t.Fatal("missing orginTime should report false")
	}

	ts := time.UnixMilli(1700000000000)
	tags.SetOriginTime(ts)
	if tags[TagOriginTime] != "1700000000000" {
		t.Errorf("orginTime tag = %q", tags[TagOriginTime])
	}

	got, ok := tags.OriginTime()
	if !ok || !got.Equal(ts) {
		t.Errorf("OriginTime() = %v, %v", got, ok)
	}
}

func TestTagsMini(t *testing.T) {
	tags := Tags{}
	if _, ok := tags.Mini(); ok {
		t.Fatal("missing mini should report false")
	}

	tags.SetMini(ObjectPath{Bucket: "ms-nogroup", Key: "min/a.jpg"})
	p, ok := tags.Mini()
	if !ok || p.String() != "ms-nogroup/min/a.jpg" {
		t.Errorf("Mini() = %v, %v", p, ok)
	}
}
