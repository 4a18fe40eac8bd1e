package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/domfilter/wire"
)

func report(session, host, kind string, at time.Time, selectors ...string) wire.Report {
	return wire.Report{
		SessionID: session,
		PageURL:   "https://" + host + "/",
		Hostname:  host,
		Type:      kind,
		Selectors: selectors,
		At:        at,
	}
}

func TestJournal_StatsAndRecent(t *testing.T) {
	j := OpenMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, r := range []wire.Report{
		report("s1", "a.example", wire.KindCosmetic, base, ".ad", "#banner"),
		report("s1", "a.example", wire.KindNet, base.Add(time.Second), `img[src="https://x/1.png"]`),
		report("s2", "a.example", wire.KindCosmetic, base.Add(2*time.Second), ".promo"),
		report("s3", "b.example", wire.KindCosmetic, base.Add(3*time.Second), ".tower"),
		report("s3", "b.example", wire.KindCosmetic, base),
	} {
		if err := j.Send(ctx, r); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	stats, err := j.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d hosts, want 2", len(stats))
	}
	a := stats[0]
	if a.Hostname != "a.example" || a.Cosmetic != 3 || a.Net != 1 || a.Sessions != 2 {
		t.Errorf("a.example: got %+v", a)
	}

	recent, err := j.Recent(ctx, "a.example", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Selector != ".promo" || recent[1].Kind != wire.KindNet {
		t.Errorf("recent: got %+v", recent)
	}
	if !recent[0].At.Equal(base.Add(2 * time.Second)) {
		t.Errorf("at: got %v", recent[0].At)
	}

	all, err := j.Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("all: got %d entries, want 5", len(all))
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := j.Send(context.Background(), report("s", "h", wire.KindCosmetic, time.Now(), ".x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	j.Close()

	j, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	entries, err := j.Recent(context.Background(), "h", 10)
	if err != nil || len(entries) != 1 {
		t.Errorf("reopened: got %d entries, err %v", len(entries), err)
	}
}
