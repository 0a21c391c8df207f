package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	results []scriptedResult
	calls   int
}

type scriptedResult struct {
	body string
	err  error
}

func (p *scriptedProvider) Fetch(context.Context, string) (body string, err error) {
	r := p.results[p.calls]
	p.calls++

	return r.body, r.err
}

var errTransientForTest = errors.New("transient failure")

// testDelays shrinks the production schedule by three orders of magnitude so
// the retry bookkeeping can be exercised without waiting minutes.
var testDelays = []time.Duration{
	3 * time.Millisecond,
	6 * time.Millisecond,
	12 * time.Millisecond,
}

func TestFixedSchedule_sequence(t *testing.T) {
	sched := &fixedSchedule{delays: testDelays}

	assert.Equal(t, testDelays[0], sched.NextBackOff())
	assert.Equal(t, testDelays[1], sched.NextBackOff())
	assert.Equal(t, testDelays[2], sched.NextBackOff())
	assert.Equal(t, backoff.Stop, sched.NextBackOff())

	sched.Reset()
	assert.Equal(t, testDelays[0], sched.NextBackOff())
}

func TestFetchWithSchedule_succeedsWithinBudget(t *testing.T) {
	p := &scriptedProvider{results: []scriptedResult{
		{err: errTransientForTest},
		{err: errTransientForTest},
		{body: "ok"},
	}}

	body, err := fetchWithSchedule(context.Background(), p, "00000", testDelays)
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
	assert.Equal(t, 3, p.calls)
}

func TestFetchWithSchedule_exhaustsScheduleThenMakesFinalCall(t *testing.T) {
	p := &scriptedProvider{results: []scriptedResult{
		{err: errTransientForTest},
		{err: errTransientForTest},
		{err: errTransientForTest},
		{err: errTransientForTest},
		{err: errTransientForTest}, // the final, un-retried attempt
	}}

	_, err := fetchWithSchedule(context.Background(), p, "00000", testDelays)
	require.Error(t, err)
	assert.Equal(t, 5, p.calls) // 1 initial + 3 scheduled retries + 1 final
}

func TestFetchWithSchedule_fatalErrorStopsImmediately(t *testing.T) {
	p := &scriptedProvider{results: []scriptedResult{
		{err: ErrUpstreamFatal},
	}}

	_, err := fetchWithSchedule(context.Background(), p, "00000", testDelays)
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestFetchWithSchedule_contextCancellationDuringWait(t *testing.T) {
	p := &scriptedProvider{results: []scriptedResult{
		{err: errTransientForTest},
		{body: "unreachable"},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetchWithSchedule(ctx, p, "00000", testDelays)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.calls)
}
