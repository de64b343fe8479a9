package workload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vugate/internal/runner"
)

func TestCompile_Conditions(t *testing.T) {
	body := []byte(`{"status":"ok","items":[1,2,3],"meta":{"count":3}}`)
	ok := runner.RequestResult{Status: 200, Body: body, Latency: 40 * time.Millisecond}

	cases := []struct {
		name string
		spec CheckSpec
		res  runner.RequestResult
		want bool
	}{
		{"status match", CheckSpec{Name: "s", Status: 200}, ok, true},
		{"status mismatch", CheckSpec{Name: "s", Status: 201}, ok, false},
		{"status with transport error", CheckSpec{Name: "s", Status: 200}, runner.RequestResult{Status: 200, Err: assert.AnError}, false},
		{"status in", CheckSpec{Name: "s", StatusIn: []int{200, 204}}, ok, true},
		{"status not in", CheckSpec{Name: "s", StatusIn: []int{301, 302}}, ok, false},
		{"body contains", CheckSpec{Name: "b", BodyContains: `"ok"`}, ok, true},
		{"body matches", CheckSpec{Name: "b", BodyMatches: `items":\[\d`}, ok, true},
		{"json truthy", CheckSpec{Name: "j", JSON: "items"}, ok, true},
		{"json missing", CheckSpec{Name: "j", JSON: "nope"}, ok, false},
		{"json equals string", CheckSpec{Name: "j", JSON: "status", Equals: "ok"}, ok, true},
		{"json equals int", CheckSpec{Name: "j", JSON: "meta.count", Equals: 3}, ok, true},
		{"json equals list", CheckSpec{Name: "j", JSON: "items", Equals: []int{1, 2, 3}}, ok, true},
		{"json not json", CheckSpec{Name: "j", JSON: "status"}, runner.RequestResult{Status: 200, Body: []byte("plain")}, false},
		{"latency under", CheckSpec{Name: "l", MaxLatency: 50 * time.Millisecond}, ok, true},
		{"latency over", CheckSpec{Name: "l", MaxLatency: 10 * time.Millisecond}, ok, false},
		{"all must hold", CheckSpec{Name: "a", Status: 200, BodyContains: "missing"}, ok, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pred, err := tc.spec.Compile()
			require.NoError(t, err)
			assert.Equal(t, tc.want, pred(tc.res))
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	for name, spec := range map[string]CheckSpec{
		"no name":       {Status: 200},
		"no condition":  {Name: "empty"},
		"bad regex":     {Name: "r", BodyMatches: "("},
		"bad jmespath":  {Name: "j", JSON: "items[?"},
		"equals orphan": {Name: "e", Equals: 1},
	} {
		_, err := spec.Compile()
		assert.Error(t, err, name)
	}

	_, err := New(runner.Request{URL: "http://localhost"}, []CheckSpec{{Name: "bad", BodyMatches: "("}})
	assert.ErrorContains(t, err, `"bad"`)
}

func TestScript_DrivesRunner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	specs := append([]CheckSpec{}, DefaultChecks...)
	specs = append(specs, CheckSpec{Name: "body ok", JSON: "status", Equals: "ok"})
	script, err := New(runner.Request{Method: http.MethodGet, URL: srv.URL}, specs)
	require.NoError(t, err)

	r, err := runner.NewRunner(runner.Config{VUs: 3, Iterations: 2, Pause: 10 * time.Millisecond}, script.Iterate, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	res, err := r.Run(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 6, res.Summary.Requests)
	require.Len(t, res.Checks, 2)
	for _, c := range res.Checks {
		assert.EqualValues(t, 6, c.Passes, c.Name)
		assert.Zero(t, c.Fails, c.Name)
	}
}
