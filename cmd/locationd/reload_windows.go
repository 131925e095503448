package main

import "context"

// watchReload is a no-op: Windows has no SIGHUP.
func watchReload(ctx context.Context, _ *daemon) {
	<-ctx.Done()
}
