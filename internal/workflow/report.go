package workflow

import (
	"fmt"
	"strings"

	"marketprobe/internal/protocol"
)

// Check is one verified quantity.
type Check struct {
	Name     string
	Expected string
	Actual   string
	OK       bool
}

type Report struct {
	Seller string
	Buyer  string
	Node   protocol.OreNode
	Item   string
	// Listing is the listing that was finally bought.
	Listing protocol.Listing
	Checks  []Check
}

func (r *Report) check(name string, expected, actual any) bool {
	c := Check{Name: name, Expected: fmt.Sprint(expected), Actual: fmt.Sprint(actual)}
	c.OK = c.Expected == c.Actual
	r.Checks = append(r.Checks, c)
	return c.OK
}

// Failed lists the checks that did not hold.
func (r *Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

// Summary is a multi-line human-readable account of the run.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "seller=%s buyer=%s node=%s item=%s listing=%s (%dx at %d)\n",
		r.Seller, r.Buyer, r.Node.ID, r.Item, r.Listing.ID, r.Listing.Quantity, r.Listing.Price)
	for _, c := range r.Checks {
		mark := "ok  "
		if !c.OK {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "  %s %-28s expected=%s actual=%s\n", mark, c.Name, c.Expected, c.Actual)
	}
	fmt.Fprintf(&b, "%d checks, %d failed", len(r.Checks), len(r.Failed()))
	return b.String()
}
