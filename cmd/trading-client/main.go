// trading-client issues business calls through the broker and prints the
// responses. Useful for smoke testing a deployment:
//
//	trading-client -addr 127.0.0.1:5555 -method scan.market
//	trading-client -method execute.order -params '{"symbol":"BTCUSDT","side":"buy","quantity":0.5}'
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tacoreio/tacore/pkg/client"
	"github.com/tacoreio/tacore/pkg/core"
)

func main() {
	logger := core.NewComponentLogger("trading-client")

	addr := flag.String("addr", "127.0.0.1:5555", "broker frontend address")
	method := flag.String("method", "health.check", "business method to call")
	paramsJSON := flag.String("params", "{}", "call parameters as JSON")
	count := flag.Int("count", 1, "number of calls to issue")
	timeout := flag.Duration("timeout", 2500*time.Millisecond, "per-attempt timeout")
	retries := flag.Int("retries", 3, "attempts per call")
	flag.Parse()

	var params map[string]interface{}
	if err := core.JSONDecode([]byte(*paramsJSON), &params); err != nil {
		logger.Errorf("parse -params: %v", err)
		os.Exit(1)
	}

	c := client.New(client.Config{
		FrontendAddr: *addr,
		Timeout:      *timeout,
		Retries:      *retries,
	})
	defer c.Close()

	failures := 0
	for i := 0; i < *count; i++ {
		resp, err := c.Call(context.Background(), *method, params)
		if err != nil {
			logger.Errorf("call %d: %v", i+1, err)
			failures++
			continue
		}

		out, _ := core.JSONEncode(resp)
		fmt.Println(string(out))
		if !resp.IsSuccess() {
			failures++
		}
	}

	if failures > 0 {
		logger.Warnf("%d/%d calls failed", failures, *count)
		os.Exit(1)
	}
}
