package speedtest

import (
	"context"
	"fmt"

	st "github.com/showwin/speedtest-go/speedtest"
)

// Ookla tests against a self-hosted Ookla-compatible server
// (http://host:port/speedtest/upload.php).
type Ookla struct {
	MaxConnections int
	SavingMode     bool
}

func (c *Ookla) Download(ctx context.Context, ep Endpoint) (float64, error) {
	return c.measure(ctx, ep, true)
}

func (c *Ookla) Upload(ctx context.Context, ep Endpoint) (float64, error) {
	return c.measure(ctx, ep, false)
}

func (c *Ookla) measure(ctx context.Context, ep Endpoint, download bool) (float64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	conns := c.MaxConnections
	if conns <= 0 {
		conns = 4
	}
	port := ep.Port
	if port <= 0 {
		port = 8080
	}

	// A fresh client per sub-test: speedtest-go keeps per-instance state.
	stc := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     c.SavingMode,
		MaxConnections: conns,
	}))
	stc.SetNThread(conns)
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
	}()

	srv, err := stc.CustomServer(fmt.Sprintf("http://%s:%d/speedtest/upload.php", ep.Host, port))
	if err != nil {
		return 0, fmt.Errorf("ookla server %s:%d: %w", ep.Host, port, err)
	}

	if download {
		if err := srv.DownloadTestContext(ctx); err != nil {
			return 0, fmt.Errorf("ookla download %s:%d: %w", ep.Host, port, err)
		}
		return srv.DLSpeed.Mbps(), nil
	}
	if err := srv.UploadTestContext(ctx); err != nil {
		return 0, fmt.Errorf("ookla upload %s:%d: %w", ep.Host, port, err)
	}
	return srv.ULSpeed.Mbps(), nil
}
