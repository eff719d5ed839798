package probe

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-ping/ping"

	"github.com/echoscope/echoscope/agent/internal/config"
	"github.com/echoscope/echoscope/pkg/types"
)

// echo is one ICMP request and its reply, if any.
type echo struct {
	Seq      int
	Rtt      time.Duration
	Received bool
}

// pingRunner sends count echoes to target and reports each one in sequence order.
type pingRunner func(ctx context.Context, src config.Source) ([]echo, error)

type pingProber struct {
	src config.Source
	run pingRunner

	// prevRtt carries the last received RTT across probe cycles.
	prevRtt time.Duration
	hasPrev bool
}

// Probe sends src.Count echoes and converts them to samples. Lost echoes carry
// zero latency and no jitter; jitter is |rtt - previous rtt|.
func (p *pingProber) Probe(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := newResult(p.src, start)

	echoes, err := p.run(ctx, p.src)
	if err != nil {
		res.Err = fmt.Errorf("ping %q: %w", p.src.Target, err)
		return res, nil
	}

	interval := time.Second
	res.Samples = make([]types.EchoSample, 0, len(echoes))
	for i, e := range echoes {
		s := types.EchoSample{Timestamp: res.ProbedAt.Add(time.Duration(i) * interval)}
		if !e.Received {
			s.PacketLoss = true
			res.Samples = append(res.Samples, s)
			continue
		}
		s.LatencyMs = durationMs(e.Rtt)
		if p.hasPrev {
			s.JitterMs = types.Float(math.Abs(durationMs(e.Rtt - p.prevRtt)))
		}
		p.prevRtt, p.hasPrev = e.Rtt, true
		res.Samples = append(res.Samples, s)
	}
	return res, nil
}

// runPinger drives a go-ping Pinger. Replies are matched to requests by
// sequence number so a lost echo keeps its position.
func runPinger(ctx context.Context, src config.Source) ([]echo, error) {
	pinger, err := ping.NewPinger(src.Target)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	pinger.Count = src.Count
	pinger.Timeout = src.Timeout
	pinger.SetPrivileged(src.Privileged)

	rtts := make(map[int]time.Duration, src.Count)
	pinger.OnRecv = func(pkt *ping.Packet) {
		rtts[pkt.Seq] = pkt.Rtt
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	sent := pinger.Statistics().PacketsSent
	return collectEchoes(sent, rtts), nil
}

// collectEchoes lays out sent echoes in sequence order. Replies with an
// out-of-range sequence (duplicates from a previous run) are dropped.
func collectEchoes(sent int, rtts map[int]time.Duration) []echo {
	out := make([]echo, sent)
	for i := range out {
		out[i].Seq = i
	}
	seqs := make([]int, 0, len(rtts))
	for seq := range rtts {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	for _, seq := range seqs {
		if seq < 0 || seq >= sent {
			continue
		}
		out[seq].Rtt = rtts[seq]
		out[seq].Received = true
	}
	return out
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
