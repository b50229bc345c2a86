package memprof

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"
)

// ToProfile converts r into a heap-style pprof profile with one sample per
// distinct resource. Each sample's stack is the resource under its kind, so
// `go tool pprof -top` groups by kind and flame graphs nest resources.
func ToProfile(r MemoryReport) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "inuse_objects", Unit: "count"},
			{Type: "inuse_space", Unit: "bytes"},
		},
		DefaultSampleType: "inuse_space",
		PeriodType:        &profile.ValueType{Type: "space", Unit: "bytes"},
	}

	var nextID uint64
	newLocation := func(name, file string) *profile.Location {
		nextID++
		fn := &profile.Function{ID: nextID, Name: name, SystemName: name, Filename: file}
		loc := &profile.Location{ID: nextID, Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		return loc
	}

	kinds := make(map[string]*profile.Location)
	for _, res := range r.Resources {
		parent, ok := kinds[res.Kind]
		if !ok {
			parent = newLocation(res.Kind, res.Kind)
			kinds[res.Kind] = parent
		}
		name := res.Name
		if name == "" {
			name = "(unnamed)"
		}
		leaf := newLocation(res.Kind+"/"+name, res.Kind)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{leaf, parent},
			Value:    []int64{1, int64(res.Bytes)},
			Label:    map[string][]string{"type": {res.Kind}},
		})
	}
	return p
}

// WriteProfile writes r to w as a gzipped pprof profile.
func WriteProfile(w io.Writer, r MemoryReport) error {
	p := ToProfile(r)
	if err := p.CheckValid(); err != nil {
		return fmt.Errorf("build profile: %w", err)
	}
	if err := p.Write(w); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}
