package config

import "sort"

// Profile is a named deployment that asserts an exact rank count.
type Profile struct {
	Name       string
	Ranks      int
	GlobalRows int
	Columns    int
}

// Profiles lists the recognised deployment profiles.
var Profiles = map[string]Profile{
	"hybrid_small": {Name: "hybrid_small", Ranks: 2, GlobalRows: 1000, Columns: 1000},
	"hybrid_big":   {Name: "hybrid_big", Ranks: 8, GlobalRows: 10000, Columns: 10000},
}

// LookupProfile returns the named profile.
func LookupProfile(name string) (Profile, bool) {
	p, ok := Profiles[name]
	return p, ok
}

// ProfileNames returns the profile names in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(Profiles))
	for name := range Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
