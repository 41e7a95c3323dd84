// Package workflow runs the two-session market scenario end to end: gather
// ore, walk both players to a trading post, fund the buyer, list, cancel,
// relist and buy, verifying every quantity that moves.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"marketprobe/internal/client"
	"marketprobe/internal/config"
	"marketprobe/internal/fault"
	"marketprobe/internal/nav"
	"marketprobe/internal/ops"
	"marketprobe/internal/protocol"
)

type Config struct {
	URL      string
	Scenario config.Scenario

	ConnectTimeout time.Duration
	OpTimeout      time.Duration
	NavTimeout     time.Duration

	Logger   *log.Logger
	Recorder client.FrameRecorder
}

type Runner struct {
	cfg Config
	log *log.Logger
	nav *nav.Controller

	seller, buyer *ops.Ops
	report        *Report
}

func New(cfg Config) *Runner {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	n := cfg.Scenario.Nav
	return &Runner{
		cfg: cfg,
		log: logger,
		nav: nav.NewController(nav.Tuning{Epsilon: n.Epsilon, StuckAfter: n.StuckAfter, StateWait: n.StateWait}, logger),
	}
}

// Run executes the scenario. The report is never nil; the error is non-nil
// when a step failed or any check did not hold. Both sessions are closed
// before Run returns.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	r.report = &Report{}
	if err := r.cfg.Scenario.Validate(); err != nil {
		return r.report, err
	}

	defer func() {
		for _, o := range []*ops.Ops{r.seller, r.buyer} {
			if o != nil {
				o.Session().Close()
			}
		}
		r.log.Printf("summary:\n%s", r.report.Summary())
	}()

	if err := r.connect(ctx); err != nil {
		return r.report, err
	}
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"gather", r.gather},
		{"relocate", r.relocate},
		{"fund buyer", r.fund},
		{"listing round-trip", r.roundTrip},
		{"purchase", r.purchase},
	}
	for _, st := range steps {
		r.log.Printf("step: %s", st.name)
		if err := st.fn(ctx); err != nil {
			return r.report, fmt.Errorf("%s: %w", st.name, err)
		}
	}
	if failed := r.report.Failed(); len(failed) > 0 {
		return r.report, fmt.Errorf("%d of %d checks failed, first: %s expected %s got %s",
			len(failed), len(r.report.Checks), failed[0].Name, failed[0].Expected, failed[0].Actual)
	}
	return r.report, nil
}

func (r *Runner) dial(ctx context.Context, name string) (*ops.Ops, error) {
	s, err := client.Dial(ctx, client.Config{
		URL:              r.cfg.URL,
		Name:             name,
		ConnectTimeout:   r.cfg.ConnectTimeout,
		HandshakeTimeout: r.cfg.OpTimeout,
		Logger:           r.log,
		Recorder:         r.cfg.Recorder,
	})
	if err != nil {
		return nil, err
	}
	return ops.New(s, ops.Timeouts{Response: r.cfg.OpTimeout, Converge: r.cfg.OpTimeout}, r.log), nil
}

func (r *Runner) connect(ctx context.Context) error {
	var err error
	if r.seller, err = r.dial(ctx, "seller"); err != nil {
		return err
	}
	if r.buyer, err = r.dial(ctx, "buyer"); err != nil {
		return err
	}
	r.report.Seller = r.seller.Session().ProfileID()
	r.report.Buyer = r.buyer.Session().ProfileID()
	return nil
}

// fatal reports errors no other candidate could recover from.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, fault.ErrConnectionClosed)
}

// candidates orders the known ore nodes nearest first, dropping depleted
// ones and those of the wrong type.
func candidates(nodes []protocol.OreNode, from protocol.Vec2, item string) []protocol.OreNode {
	out := make([]protocol.OreNode, 0, len(nodes))
	for _, n := range nodes {
		if n.Amount <= 0 || (item != "" && n.Type != item) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Pos().Dist(from) < out[j].Pos().Dist(from)
	})
	return out
}

func (r *Runner) gather(ctx context.Context) error {
	s := r.seller.Session()
	want := r.cfg.Scenario.GatherAmount
	item := r.cfg.Scenario.Item
	start := s.Inventory()
	got := 0
	opts := nav.Options{
		Tolerance:    r.cfg.Scenario.Nav.NodeTolerance,
		PollInterval: r.cfg.Scenario.Nav.PollInterval,
		MaxDuration:  r.cfg.NavTimeout,
	}

	for _, node := range candidates(s.OreNodes(), s.Position(), item) {
		if item != "" && node.Type != item {
			continue
		}
		if err := r.nav.MoveTo(ctx, s, node.Pos(), opts); err != nil {
			if fatal(ctx, err) {
				return err
			}
			r.log.Printf("node %s skipped: %v", node.ID, err)
			continue
		}
		if item == "" {
			item = node.Type
		}
		n, err := r.seller.Gather(ctx, item, want-got)
		got += n
		if err != nil {
			if fatal(ctx, err) || !errors.Is(err, fault.ErrServerRejected) {
				return err
			}
			r.log.Printf("node %s gave %d before refusing: %v", node.ID, n, err)
			if got == 0 {
				item = r.cfg.Scenario.Item
			}
			continue
		}
		r.report.Node = node
		break
	}
	if item == "" {
		return fmt.Errorf("%w: no ore node could be gathered from", fault.ErrUnreachable)
	}
	r.report.Item = item
	if got > want {
		r.log.Printf("gathered %d %s, %d over target", got, item, got-want)
	}
	r.report.check("gathered "+item, start.Count(item)+got, s.Inventory().Count(item))
	if got < want {
		return fmt.Errorf("gathered %d of %d %s", got, want, item)
	}
	return nil
}

// facility picks the configured safe zone, or the first with a trading post.
func (r *Runner) facility() (protocol.SafeZone, *protocol.Facility, error) {
	for _, z := range r.seller.Session().SafeZones() {
		if r.cfg.Scenario.ZoneID != "" && z.ID != r.cfg.Scenario.ZoneID {
			continue
		}
		if z.Facilities.Trading != nil {
			return z, z.Facilities.Trading, nil
		}
	}
	return protocol.SafeZone{}, nil, fmt.Errorf("no safe zone with a trading facility (zone %q)", r.cfg.Scenario.ZoneID)
}

func (r *Runner) relocate(ctx context.Context) error {
	zone, fac, err := r.facility()
	if err != nil {
		return err
	}
	center := fac.Center()
	targets := make([]protocol.Vec2, 0, len(r.cfg.Scenario.ApproachOffsets)+1)
	for _, off := range r.cfg.Scenario.ApproachOffsets {
		targets = append(targets, center.Add(protocol.Vec2{X: off[0], Y: off[1]}))
	}
	targets = append(targets, center)

	for _, o := range []*ops.Ops{r.seller, r.buyer} {
		if err := r.walkInto(ctx, o, zone, *fac, targets); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) walkInto(ctx context.Context, o *ops.Ops, zone protocol.SafeZone, fac protocol.Facility, targets []protocol.Vec2) error {
	s := o.Session()
	opts := nav.Options{
		Tolerance:    r.cfg.Scenario.Nav.FacilityTolerance,
		PollInterval: r.cfg.Scenario.Nav.PollInterval,
		MaxDuration:  r.cfg.NavTimeout,
	}
	for _, t := range targets {
		err := r.nav.MoveTo(ctx, s, t, opts)
		if err != nil {
			if fatal(ctx, err) {
				return err
			}
			r.log.Printf("%s: approach (%.1f,%.1f) failed: %v", s.Name(), t.X, t.Y, err)
			continue
		}
		if s.Position().Dist(fac.Center()) <= fac.Radius {
			s.SetZone(zone.ID)
			r.report.check(s.Name()+" at trading post", true, true)
			return nil
		}
	}
	if r.cfg.Scenario.AllowTeleport && s.IsAdmin() {
		r.log.Printf("%s: walking failed, teleporting to %s", s.Name(), zone.ID)
		if err := o.TeleportToSafeZone(ctx, zone.ID); err != nil {
			return err
		}
		inside := s.Position().Dist(fac.Center()) <= fac.Radius
		r.report.check(s.Name()+" at trading post", true, inside)
		return nil
	}
	return fmt.Errorf("%s: %w: trading post in %s", s.Name(), fault.ErrUnreachable, zone.ID)
}

// admin is whichever session holds the admin flag, seller first.
func (r *Runner) admin() (*ops.Ops, error) {
	for _, o := range []*ops.Ops{r.seller, r.buyer} {
		if o.Session().IsAdmin() {
			return o, nil
		}
	}
	return nil, fault.Denied(protocol.CommandGrantCurrency)
}

func (r *Runner) fund(ctx context.Context) error {
	a, err := r.admin()
	if err != nil {
		return err
	}
	b := r.buyer.Session()
	before := b.Inventory().Currency
	want := before + r.cfg.Scenario.GrantAmount
	if err := a.GrantCurrency(ctx, b.ProfileID(), r.cfg.Scenario.GrantAmount); err != nil {
		return err
	}
	inv, _, err := b.WaitInventory(ctx, func(inv protocol.Inventory, _ protocol.Bank) bool {
		return inv.Currency == want
	}, r.cfg.OpTimeout)
	r.report.check("buyer currency after grant", want, inv.Currency)
	return err
}

func (r *Runner) roundTrip(ctx context.Context) error {
	sc := r.cfg.Scenario
	s := r.seller.Session()
	item := r.report.Item
	before := s.Inventory().Count(item)

	l, err := r.seller.CreateListing(ctx, item, sc.ListingQuantity, sc.ListingPrice)
	if err != nil {
		return err
	}
	r.report.check("seller "+item+" after create", before-sc.ListingQuantity, s.Inventory().Count(item))

	if err := r.seller.CancelListing(ctx, l); err != nil {
		return err
	}
	r.report.check("seller "+item+" after cancel", before, s.Inventory().Count(item))

	l, err = r.seller.CreateListing(ctx, item, sc.ListingQuantity, sc.ListingPrice)
	if err != nil {
		return err
	}
	r.report.check("seller "+item+" after relist", before-sc.ListingQuantity, s.Inventory().Count(item))
	r.report.Listing = l
	return nil
}

func (r *Runner) purchase(ctx context.Context) error {
	sc := r.cfg.Scenario
	ls, err := r.buyer.RequestListings(ctx)
	if err != nil {
		return err
	}
	shown, ok := ops.FindListing(ls, r.report.Listing.ID)
	if !ok {
		return fault.Mismatch("request listings", "listing %s missing from %d listings", r.report.Listing.ID, len(ls))
	}
	if err := protocol.ValidateListingDisplay(shown); err != nil {
		r.report.check("listing display fields", "valid", err.Error())
		return err
	}
	r.report.check("listing display fields", "valid", "valid")
	r.report.check("listed price", sc.ListingPrice, shown.Price)
	r.report.check("listed quantity", sc.ListingQuantity, shown.Quantity)
	r.report.Listing = shown

	b, s := r.buyer.Session(), r.seller.Session()
	buyerBefore := b.Inventory()
	bankBefore := s.Bank().Currency

	if err := r.buyer.BuyListing(ctx, shown); err != nil {
		return err
	}
	after := b.Inventory()
	r.report.check("buyer currency", buyerBefore.Currency-shown.Price, after.Currency)
	r.report.check("buyer "+shown.Item, buyerBefore.Count(shown.Item)+shown.Quantity, after.Count(shown.Item))

	wantBank := bankBefore + ops.SellerProceeds(shown.Price, sc.FeeBasisPoints)
	_, bank, err := s.WaitInventory(ctx, func(_ protocol.Inventory, bk protocol.Bank) bool {
		return bk.Currency == wantBank
	}, r.cfg.OpTimeout)
	r.report.check("seller bank", wantBank, bank.Currency)
	if err != nil && !errors.Is(err, fault.ErrTimeout) {
		return err
	}
	return nil
}
