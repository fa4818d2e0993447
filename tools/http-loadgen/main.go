// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// http-loadgen posts events to a running tally server. It reuses HTTP
// connections (keep-alive) and runs concurrent workers so demo scripts can
// push a realistic write-coalescing load without external tools.
//
// Modes:
//   - single: every event carries the same key
//   - zipf:   approximate 80/20 skew (hot/cold) without PRNG: the hot key
//     takes hot_every-1 of every hot_every events
//
// Usage examples:
//
//	http-loadgen -base=http://127.0.0.1:8080 -mode=single -key=111 -n=5000 -c=16
//	http-loadgen -base=http://127.0.0.1:8080 -mode=zipf -hot_key=111 -cold_keys=50 -n=8000 -batch=20
//
// Prints a one-line summary with accepted events, duration and throughput.
// With -batch=B each request carries B events, so requests = ceil(n/B).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tally/internal/tally/api"
	"tally/internal/tally/core"
)

type modeType string

const (
	modeSingle modeType = "single"
	modeZipf   modeType = "zipf"
)

// keyFor returns the key of the i-th event sent by worker id.
func keyFor(m modeType, single, hot string, coldN, hotEvery, id, i int) string {
	if m == modeSingle {
		return single
	}
	if (i+id)%hotEvery != 0 {
		return hot
	}
	return fmt.Sprintf("cold-%d", (i+id)%coldN+1)
}

func main() {
	var (
		base     = flag.String("base", "http://127.0.0.1:8080", "Base URL including scheme and host")
		modeS    = flag.String("mode", string(modeSingle), "Mode: single|zipf")
		key      = flag.String("key", "111", "Key for single mode")
		hotKey   = flag.String("hot_key", "hot-1", "Hot key for zipf mode")
		coldN    = flag.Int("cold_keys", 50, "Number of cold keys to round-robin in zipf mode")
		scope    = flag.String("scope", "loadgen", "Scope attached to every event")
		name     = flag.String("name", "", "Name attached to every event")
		N        = flag.Int("n", 5000, "Total events to send")
		batch    = flag.Int("batch", 1, "Events per request")
		conc     = flag.Int("c", 8, "Number of concurrent workers")
		hotEvery = flag.Int("hot_every", 5, "Zipf-like skew period (minimum 2)")
		timeout  = flag.Duration("timeout", 20*time.Second, "Overall timeout for the run")
		connIdle = flag.Duration("idle_timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdle  = flag.Int("max_idle_per_host", 256, "Max idle connections per host")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeSingle && m != modeZipf {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want single|zipf)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 || *batch <= 0 {
		fmt.Fprintln(os.Stderr, "-n, -c and -batch must be > 0")
		os.Exit(2)
	}
	if m == modeZipf {
		if *coldN <= 0 {
			fmt.Fprintln(os.Stderr, "-cold_keys must be > 0 in zipf mode")
			os.Exit(2)
		}
		if *hotEvery < 2 {
			*hotEvery = 2
		}
	}
	endpoint := strings.TrimRight(*base, "/") + "/v1/events"

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        *maxIdle,
			MaxIdleConnsPerHost: *maxIdle,
			IdleConnTimeout:     *connIdle,
		},
		Timeout: 5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var accepted, failed atomic.Int64
	send := func(events []core.Event) {
		body, _ := json.Marshal(api.EventsRequest{Events: events})
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			failed.Add(1)
			// Brief backoff on errors to avoid hot spinning
			time.Sleep(200 * time.Microsecond)
			return
		}
		var out api.AcceptedResponse
		if resp.StatusCode == http.StatusAccepted && json.NewDecoder(resp.Body).Decode(&out) == nil {
			accepted.Add(int64(out.Accepted))
		} else {
			failed.Add(1)
		}
		// Drain so the connection is reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	worker := func(id, count int) {
		buf := make([]core.Event, 0, *batch)
		for i := 0; i < count; i++ {
			if ctx.Err() != nil {
				return
			}
			k := keyFor(m, *key, *hotKey, *coldN, *hotEvery, id, i)
			buf = append(buf, core.Event{Key: k, Scope: *scope, Name: *name})
			if len(buf) == *batch {
				send(buf)
				buf = buf[:0]
			}
		}
		if len(buf) > 0 && ctx.Err() == nil {
			send(buf)
		}
	}

	start := time.Now()
	per := *N / *conc
	rem := *N - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, n int) {
			defer wg.Done()
			worker(id, n)
		}(w, count)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	fmt.Printf("LoadGen: mode=%s N=%d batch=%d c=%d go=%d accepted=%d failed_requests=%d Duration=%s Throughput=%.0f events/s\n",
		m, *N, *batch, *conc, runtime.GOMAXPROCS(0), accepted.Load(), failed.Load(),
		elapsed.Truncate(time.Millisecond), float64(accepted.Load())/elapsed.Seconds())
}
