package ops

import (
	"context"
	"fmt"

	"marketprobe/internal/fault"
	"marketprobe/internal/protocol"
)

// Gather harvests from whatever node is in range until at least amount more
// of item are in the inventory, one request at a time. The result is the
// total the server acknowledged, which exceeds amount when a node yields
// several units per request. A depleted or out-of-range node comes back as
// a rejection so the caller can try another node; the count gathered so far
// is returned either way.
func (o *Ops) Gather(ctx context.Context, item string, amount int) (int, error) {
	before := o.s.Inventory().Count(item)
	got := 0
	for got < amount {
		env, err := o.request(ctx, protocol.GatherMsg{Type: protocol.TypeGather}, protocol.IsType(protocol.TypeGathered))
		if err != nil {
			return got, fmt.Errorf("gather %s: %w", item, err)
		}
		var res protocol.GatheredMsg
		if err := env.Decode(&res); err != nil {
			return got, fault.Mismatch("gather", "%v", err)
		}
		if res.OK != nil && !*res.OK {
			return got, fault.Rejected("gather "+item, res.Message)
		}
		if res.Item != "" && res.Item != item {
			return got, fault.Mismatch("gather", "wanted %s, node yielded %s", item, res.Item)
		}
		n := res.Amount
		if n <= 0 {
			n = 1
		}
		got += n
		if err := o.itemCount(ctx, item, before+got); err != nil {
			return got, fmt.Errorf("gather %s: %w", item, err)
		}
	}
	o.log.Printf("%s: gathered %d %s", o.s.Name(), got, item)
	return got, nil
}
