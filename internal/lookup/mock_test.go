package lookup

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/parcelpicker/internal/assistant"
	"github.com/sells-group/parcelpicker/internal/geometry"
	"github.com/sells-group/parcelpicker/internal/model"
	"github.com/sells-group/parcelpicker/internal/parcel"
	"github.com/sells-group/parcelpicker/internal/resilience"
	"github.com/sells-group/parcelpicker/internal/store"
)

// fakeProvider serves a fixed parcel graph. Every call spends budget the way
// the HTTP transport does.
type fakeProvider struct {
	mu        sync.Mutex
	addresses map[string]parcel.Outcome
	point     *parcel.Outcome
	parcels   []model.Parcel
	adjacent  map[string][]model.Parcel
	adjErr    error

	addressCalls  int
	pointCalls    int
	adjacentCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		addresses: make(map[string]parcel.Outcome),
		adjacent:  make(map[string][]model.Parcel),
	}
}

func (f *fakeProvider) Name() string { return "fake_arcgis" }

func (f *fakeProvider) addParcels(ps ...model.Parcel) {
	f.parcels = append(f.parcels, ps...)
}

func (f *fakeProvider) touches(id string, ns ...model.Parcel) {
	f.adjacent[id] = ns
}

func (f *fakeProvider) ResolveByAddress(_ context.Context, budget *resilience.Budget, address string) (parcel.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addressCalls++
	if err := budget.Consume(); err != nil {
		return parcel.Outcome{}, err
	}
	return f.addresses[parcel.NormalizeAddress(address)], nil
}

func (f *fakeProvider) ResolveByPoint(_ context.Context, budget *resilience.Budget, _, _ float64) (parcel.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pointCalls++
	if err := budget.Consume(); err != nil {
		return parcel.Outcome{}, err
	}
	if f.point == nil {
		return parcel.Outcome{}, nil
	}
	return *f.point, nil
}

func (f *fakeProvider) QueryAdjacent(_ context.Context, budget *resilience.Budget, g geometry.Geometry, exclude map[string]struct{}, limit int) ([]model.Parcel, error) {
	if !g.IsPolygon() {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adjacentCalls++
	if err := budget.Consume(); err != nil {
		return nil, err
	}
	if f.adjErr != nil {
		return nil, f.adjErr
	}

	var id string
	for _, p := range f.parcels {
		if reflect.DeepEqual(p.Geometry.Rings(), g.Rings()) {
			id = p.ID
			break
		}
	}
	var out []model.Parcel
	for _, n := range f.adjacent[id] {
		if _, skip := exclude[n.ID]; skip {
			continue
		}
		out = append(out, n)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeProvider) calls() (address, point, adjacent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addressCalls, f.pointCalls, f.adjacentCalls
}

// fakeAssistant answers with fixed text and counts calls.
type fakeAssistant struct {
	mu         sync.Mutex
	owners     map[string]string
	summary    string
	err        error
	ownerCalls []string
}

var _ assistant.Assistant = (*fakeAssistant)(nil)

func (a *fakeAssistant) Available() bool { return true }

func (a *fakeAssistant) NormalizeOwnerName(_ context.Context, raw string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ownerCalls = append(a.ownerCalls, raw)
	if a.err != nil {
		return "", a.err
	}
	return a.owners[raw], nil
}

func (a *fakeAssistant) Summarize(context.Context, assistant.SummaryInput) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return a.summary, nil
}

func square(t *testing.T, x0 float64) geometry.Geometry {
	t.Helper()
	g, err := geometry.FromRings([][][]float64{{{x0, 0}, {x0, 1}, {x0 + 1, 1}, {x0 + 1, 0}, {x0, 0}}})
	require.NoError(t, err)
	return g
}

func testParcel(t *testing.T, id, owner string, x0 float64) model.Parcel {
	t.Helper()
	return model.Parcel{
		ID:          id,
		OwnerName:   owner,
		SiteAddress: id + " SITE RD",
		Geometry:    square(t, x0),
		Source:      "fake_arcgis",
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "lookup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// graph wires P1 (seed of "123 Main St") touching P2 and P3, and P2 touching P4.
func graph(t *testing.T) (*fakeProvider, map[string]model.Parcel) {
	t.Helper()
	ps := map[string]model.Parcel{
		"P1": testParcel(t, "P1", "Smith John", 0),
		"P2": testParcel(t, "P2", "SMITH   JOHN", 1),
		"P3": testParcel(t, "P3", "Doe Jane", -1),
		"P4": testParcel(t, "P4", "Roe Richard", 2),
	}
	f := newFakeProvider()
	f.addParcels(ps["P1"], ps["P2"], ps["P3"], ps["P4"])
	f.addresses["123 MAIN ST"] = parcel.Outcome{Kind: parcel.Found, Parcel: ps["P1"], MatchedBy: model.MatchExactAddress}
	f.touches("P1", ps["P2"], ps["P3"])
	f.touches("P2", ps["P1"], ps["P4"])
	return f, ps
}
