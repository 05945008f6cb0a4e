// Package replication selects a minimal multiset of storage drivers
// satisfying a replication strategy over driver capability classes
// (spec §4.3).
//
// Grounded on spec.md §4.3's concern/class table directly; the
// greedy-over-a-stable-enumeration algorithm borrows its vocabulary
// ("driver", "classification", "replica count") from Synnergy's
// core/replication.go peer-selection wording, not its gossip mechanics
// (Synnergy replicates over a live peer set; this protocol selects from
// a fixed, statically declared driver list).
package replication

import (
	"sort"

	"github.com/gaia-protocol/gaia-go/apierr"
)

// Class is a storage capability class a driver may declare.
type Class string

const (
	ReadPublic   Class = "read_public"
	WritePublic  Class = "write_public"
	ReadPrivate  Class = "read_private"
	WritePrivate Class = "write_private"
	ReadLocal    Class = "read_local"
	WriteLocal   Class = "write_local"
)

// Concern is a named replication requirement a Strategy assigns a count to.
type Concern string

const (
	ConcernLocal   Concern = "local"
	ConcernPublish Concern = "publish"
	ConcernPublic  Concern = "public"
	ConcernPrivate Concern = "private"
)

// concernClasses maps each concern to the fixed pair of classes that
// satisfy it (spec §4.3 table).
var concernClasses = map[Concern][2]Class{
	ConcernLocal:   {ReadLocal, WriteLocal},
	ConcernPublish: {ReadPublic, WritePrivate},
	ConcernPublic:  {ReadPublic, WritePublic},
	ConcernPrivate: {ReadPrivate, WritePrivate},
}

// Strategy maps concerns to the required replica count.
type Strategy map[Concern]int

// Classification maps a capability class to the drivers that declare it,
// matching the wire shape the gateway reports (e.g.
// {read_local: [A], write_local: [A], read_public: [B], ...}).
type Classification map[Class][]string

// driverClasses inverts classification into driver -> declared classes,
// for matching a single driver against a concern's class pair.
func driverClasses(classification Classification) map[string][]Class {
	out := map[string][]Class{}
	for class, drivers := range classification {
		for _, d := range drivers {
			out[d] = append(out[d], class)
		}
	}
	return out
}

// matches reports whether driver's declared classes intersect concern's
// class pair.
func matches(classes []Class, concern Concern) bool {
	pair := concernClasses[concern]
	for _, c := range classes {
		if c == pair[0] || c == pair[1] {
			return true
		}
	}
	return false
}

// SelectDrivers returns the smallest list of drivers that, counted per
// concern, meets each concern's required count in strategy. Iterates
// drivers in the stable enumeration order (classification's keys sorted
// ascending) and, for each driver, assigns it to every not-yet-satisfied
// concern it matches. Fails with UnsatisfiableReplicationStrategy if any
// concern remains unmet after all drivers are considered.
func SelectDrivers(strategy Strategy, classification Classification) ([]string, error) {
	byDriver := driverClasses(classification)
	order := stableDriverOrder(byDriver)

	remaining := make(map[Concern]int, len(strategy))
	for concern, count := range strategy {
		if count > 0 {
			remaining[concern] = count
		}
	}

	selected := make([]string, 0, len(order))
	selectedSet := make(map[string]bool, len(order))

	for _, driver := range order {
		if len(remaining) == 0 {
			break
		}
		classes := byDriver[driver]
		picked := false
		for concern, count := range remaining {
			if count <= 0 {
				delete(remaining, concern)
				continue
			}
			if matches(classes, concern) {
				remaining[concern] = count - 1
				if remaining[concern] <= 0 {
					delete(remaining, concern)
				}
				picked = true
			}
		}
		if picked && !selectedSet[driver] {
			selected = append(selected, driver)
			selectedSet[driver] = true
		}
	}

	if len(remaining) > 0 {
		unmet := make([]string, 0, len(remaining))
		for c := range remaining {
			unmet = append(unmet, string(c))
		}
		sort.Strings(unmet)
		return nil, apierr.Newf(apierr.UnsatisfiableReplicationStrategy,
			"unsatisfied concerns: %v", unmet)
	}
	return selected, nil
}

// stableDriverOrder returns the driver names sorted ascending, giving
// SelectDrivers a deterministic iteration order independent of Go's
// randomized map iteration.
func stableDriverOrder(byDriver map[string][]Class) []string {
	names := make([]string, 0, len(byDriver))
	for name := range byDriver {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
