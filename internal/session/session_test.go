package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepSequenceIsForwardOnly(t *testing.T) {
	want := []Step{StepAwaitingName, StepAwaitingEmail, StepAwaitingPhone, StepAwaitingAddress, StepSubmitting}
	got := []Step{StepAwaitingName}
	for s := StepAwaitingName; s != StepSubmitting; {
		s = s.Next()
		got = append(got, s)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, StepNone, StepNone.Next())
	assert.Equal(t, StepSubmitting, StepSubmitting.Next())
}

func TestStepCollecting(t *testing.T) {
	assert.False(t, StepNone.Collecting())
	assert.True(t, StepAwaitingName.Collecting())
	assert.True(t, StepAwaitingAddress.Collecting())
	assert.False(t, StepSubmitting.Collecting())
}

func TestStepStringAndParse(t *testing.T) {
	assert.Equal(t, "AWAITING_PHONE", StepAwaitingPhone.String())
	assert.Equal(t, "Step(42)", Step(42).String())

	s, err := ParseStep("awaiting_email")
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingEmail, s)

	_, err = ParseStep("DONE")
	assert.Error(t, err)
}

func TestSessionJSONUsesStepNames(t *testing.T) {
	in := Session{
		Step:              StepAwaitingPhone,
		Details:           CustomerDetails{Name: "Alice", Email: "a@x.com"},
		SelectedProductID: "PROD001",
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"step":"AWAITING_PHONE"`)

	var out Session
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	assert.Error(t, json.Unmarshal([]byte(`{"step":"LOST"}`), &out))
}

func TestCustomerDetailsSet(t *testing.T) {
	var d CustomerDetails
	d.Set(StepAwaitingName, "Alice")
	d.Set(StepAwaitingEmail, "a@x.com")
	d.Set(StepAwaitingPhone, "555-1234")
	d.Set(StepAwaitingAddress, "1 Main St")
	d.Set(StepNone, "ignored")
	d.Set(StepSubmitting, "ignored")

	assert.Equal(t, CustomerDetails{Name: "Alice", Email: "a@x.com", Phone: "555-1234", Address: "1 Main St"}, d)
}

func TestMemoryStoreGetOrCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Session{}, s)
	assert.Equal(t, 0, store.Len())

	s.Step = StepAwaitingName
	require.NoError(t, store.Set(ctx, "u1", s))

	// Values are copies; mutating the local value must not leak back.
	s.Step = StepAwaitingEmail
	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingName, got.Step)

	other, err := store.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, StepNone, other.Step)

	require.NoError(t, store.Clear(ctx, "u1"))
	got, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Session{}, got)
}

type fakeCache struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	failGet error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCache) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = b
	f.ttls[key] = ttl
	return nil
}

func (f *fakeCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	if f.failGet != nil {
		return false, f.failGet
	}
	b, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (f *fakeCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeCache) Ping(context.Context) error { return nil }

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	store := NewRedisStore(cache, time.Hour)

	s, err := store.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, Session{}, s)

	s.Step = StepAwaitingAddress
	s.Details.Name = "Alice"
	require.NoError(t, store.Set(ctx, "42", s))
	assert.Contains(t, cache.data, "session:42")
	assert.Equal(t, time.Hour, cache.ttls["session:42"])

	got, err := store.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	require.NoError(t, store.Clear(ctx, "42"))
	assert.NotContains(t, cache.data, "session:42")
	require.NoError(t, store.Ping(ctx))
}

func TestRedisStoreWrapsErrors(t *testing.T) {
	cache := newFakeCache()
	cache.failGet = errors.New("connection reset")
	store := NewRedisStore(cache, -time.Second)
	assert.Equal(t, time.Duration(0), store.ttl)

	_, err := store.Get(context.Background(), "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, cache.failGet)
}
