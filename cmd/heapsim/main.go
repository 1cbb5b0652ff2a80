// Command heapsim runs the allocator against a host-simulated region and
// exposes a small debug surface over it: a config file that can be
// hot-reloaded, and an HTTP/3 endpoint reporting live block-list stats.
//
// It is a harness, not part of the allocator's contract. It builds one heap
// at startup, sized by the -region flag with default tunables, and never
// rebuilds it. The watched config file is parsed and logged on every
// change; its values are not applied to the heap, whose tunables are fixed
// at creation time (the allocator's own invariant 1 requires that).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/linmo-rt/linmo/internal/heap"
	"github.com/linmo-rt/linmo/internal/runtime/netstack"
	"github.com/linmo-rt/linmo/internal/runtime/vfs"
)

// configFS is the file abstraction readConfig reads through, rather than
// calling os.ReadFile directly.
var configFS vfs.FileSystem = vfs.NewOS()

// statsFormatVersion is the "ABI" of the JSON this harness writes when
// asked to dump stats, independent of the allocator's in-memory header
// layout. Bumping the major component signals an incompatible snapshot
// format.
var statsFormatVersion = semver.MustParse("1.0.0")

func main() {
	regionSize := flag.Int("region", 1<<20, "simulated heap region size in bytes")
	configPath := flag.String("config", "", "optional key=value config file to watch for changes")
	httpAddr := flag.String("http", "", "optional address to serve HTTP/3 stats on, e.g. :8443")
	flag.Parse()

	region := make([]byte, *regionSize)
	h := heap.NewHeap(region)
	if h == nil {
		fmt.Fprintf(os.Stderr, "heapsim: region of %d bytes is too small to initialize a heap\n", *regionSize)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "heapsim: stats format v%s, region=%d bytes, free_blocks=%d\n",
		statsFormatVersion, *regionSize, h.FreeBlocks())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *configPath != "" {
		go watchConfig(ctx, *configPath)
	}

	if *httpAddr != "" {
		if err := serveStats(ctx, *httpAddr, h); err != nil {
			fmt.Fprintf(os.Stderr, "heapsim: stats server: %v\n", err)
			os.Exit(1)
		}
		return
	}

	<-ctx.Done()
}

// watchConfig logs changes to a harness config file as they happen. The
// parsed values are only reported; the running heap is left unchanged.
func watchConfig(ctx context.Context, path string) {
	w, err := vfs.NewFSWatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "heapsim: config watch disabled: %v\n", err)
		return
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		fmt.Fprintf(os.Stderr, "heapsim: cannot watch %s: %v\n", path, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			cfg, err := readConfig(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "heapsim: config reload failed: %v\n", err)
				continue
			}
			fmt.Fprintf(os.Stderr, "heapsim: config changed (%s): %+v (not applied to the running heap)\n", ev.Path, cfg)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "heapsim: config watch error: %v\n", err)
		}
	}
}

// harnessConfig is the small set of heap.Option-shaped values the config
// file can set. The harness parses and logs them; it does not build a heap
// from them.
type harnessConfig struct {
	WordSize          uintptr
	MinPayload        uintptr
	MaxPayload        uintptr
	CoalesceThreshold int
}

// readConfig parses a flat key=value file, one assignment per line,
// ignoring blank lines and lines starting with '#'.
func readConfig(path string) (harnessConfig, error) {
	var cfg harnessConfig

	f, err := configFS.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			continue
		}

		switch key {
		case "word_size":
			cfg.WordSize = uintptr(n)
		case "min_payload":
			cfg.MinPayload = uintptr(n)
		case "max_payload":
			cfg.MaxPayload = uintptr(n)
		case "coalesce_threshold":
			cfg.CoalesceThreshold = int(n)
		}
	}

	return cfg, nil
}

// statsResponse is the JSON body served at /stats.
type statsResponse struct {
	FormatVersion string `json:"format_version"`
	RegionBase    string `json:"region_base"`
	RegionEnd     string `json:"region_end"`
	FreeBlocks    int    `json:"free_blocks"`
	TotalBlocks   int    `json:"total_blocks"`
}

func serveStats(ctx context.Context, addr string, h *heap.Heap) error {
	tlsCfg, err := netstack.GenerateSelfSignedTLS([]string{"localhost"}, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("generating debug TLS certificate: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		s := h.Stats()
		resp := statsResponse{
			FormatVersion: statsFormatVersion.String(),
			RegionBase:    fmt.Sprintf("%#x", s.RegionBase),
			RegionEnd:     fmt.Sprintf("%#x", s.RegionEnd),
			FreeBlocks:    s.FreeBlocks,
			TotalBlocks:   s.TotalBlocks,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := netstack.NewHTTP3Server(addr, tlsCfg, mux)

	bound, err := srv.Start()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "heapsim: stats available at https://%s/stats\n", bound)

	select {
	case <-ctx.Done():
		return srv.Stop()
	case err := <-srv.Error():
		return err
	}
}

// checkSnapshotCompatible refuses to load a replayed stats snapshot
// produced by an incompatible major version of the format above.
func checkSnapshotCompatible(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("parsing snapshot version: %w", err)
	}

	constraint, err := semver.NewConstraint(fmt.Sprintf("^%d", statsFormatVersion.Major()))
	if err != nil {
		return err
	}

	if !constraint.Check(v) {
		return fmt.Errorf("snapshot format v%s is incompatible with this harness's v%s", v, statsFormatVersion)
	}

	return nil
}
