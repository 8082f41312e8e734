package run

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/avmerge/internal/config"
	"github.com/John-Robertt/avmerge/internal/domain"
)

type recordObserver struct {
	mu sync.Mutex

	startCalls int
	phases     []string
	started    []string
	items      []string
	totals     []int
}

func (o *recordObserver) OnStart(config.EffectiveConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startCalls++
}

func (o *recordObserver) OnPhaseDone(name string, _ map[string]any, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, name)
}

func (o *recordObserver) OnItemStart(id domain.Identity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, id.Key())
}

func (o *recordObserver) OnItemDone(idx, total int, id domain.Identity, _ domain.ItemResult, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, id.Key())
	o.totals = append(o.totals, total)
}

func TestExecuteWithObserver_EmitsPhaseAndItemEvents(t *testing.T) {
	root := t.TempDir()
	writeVideo(t, root, "in/STARS-804.mp4")
	writeVideo(t, root, "in/FC2-PPV-3234567.mkv")

	obs := &recordObserver{}
	rr := ExecuteWithObserver(context.Background(), config.EffectiveConfig{Path: root, Concurrency: 2},
		testDeps(t, stubSource{name: "a", fill: halfA}, stubSource{name: "b", fill: halfB}), obs)
	require.Len(t, rr.Items, 2)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Equal(t, 1, obs.startCalls)
	require.Equal(t, []string{"scan", "group", "plan", "exec"}, obs.phases)
	require.ElementsMatch(t, []string{"FC2-PPV-3234567", "STARS-804"}, obs.started)
	require.ElementsMatch(t, []string{"FC2-PPV-3234567", "STARS-804"}, obs.items)
	require.Equal(t, []int{2, 2}, obs.totals)
}
