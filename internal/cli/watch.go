package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agendahub/internal/client"
	"agendahub/internal/syncengine"
	"agendahub/internal/visibility"
	"agendahub/pkg/logger"
	"agendahub/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	watchKinds         string
	watchToken         string
	watchNotifications bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow records live as one user",
	Long: `Watch signs in with an API token, loads the requested record kinds,
subscribes to their live changes and keeps them reconciled. Collection sizes
are logged on every reconcile tick and notifications are printed as they
arrive.

Example:
  agendahub watch --kinds agenda,event --token $API_TOKEN`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchKinds, "kinds", "", "comma separated record kinds (default: all)")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "API token (default: API_TOKEN)")
	watchCmd.Flags().BoolVar(&watchNotifications, "notifications", true, "print notifications addressed to the user")
}

// parseKinds reads a comma separated kind list. Empty means every kind.
func parseKinds(s string) ([]store.Kind, error) {
	if strings.TrimSpace(s) == "" {
		return append([]store.Kind(nil), store.Kinds...), nil
	}
	var kinds []store.Kind
	for _, part := range strings.Split(s, ",") {
		k, err := store.ParseKind(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, part)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// actorFromToken reads the session's identity from its token. The server
// verifies the signature on every call, so the client only decodes it.
func actorFromToken(token string) (visibility.Actor, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return visibility.Actor{}, fmt.Errorf("parse token: %w", err)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return visibility.Actor{}, errors.New("token has no sub claim")
	}
	a := visibility.Actor{ID: sub}
	if meta, ok := claims["app_metadata"].(map[string]interface{}); ok {
		a.Role, _ = meta["role"].(string)
	}
	if a.Role == "" {
		a.Role, _ = claims["role"].(string)
	}
	return a, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	token := watchToken
	if token == "" {
		token = cfg.APIToken
	}
	if token == "" {
		return errors.New("no API token: pass --token or set API_TOKEN")
	}
	me, err := actorFromToken(token)
	if err != nil {
		return err
	}
	kinds, err := parseKinds(watchKinds)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	push := client.NewPushClient(cfg.WSURL, token)
	engine := syncengine.New(me, visibility.NewResolver(cfg.AdminRoles...), client.NewRESTAdapter(cfg.APIURL, token), push,
		syncengine.Config{ReconcileInterval: cfg.ReconcileInterval, MutationTimeout: cfg.MutationTimeout})
	defer engine.Close()

	// Whatever was published during the gap is pulled instead.
	push.OnReconnect = func() {
		go func() {
			for _, k := range kinds {
				if err := engine.Reconcile(ctx, k); err != nil {
					logger.Sugar.Warnf("Reconcile %s after reconnect failed: %v", k, err)
				}
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return push.Run(gctx) })

	if err := engine.LoadAll(gctx, kinds...); err != nil {
		stop()
		g.Wait()
		return err
	}
	for _, k := range kinds {
		if err := engine.Subscribe(gctx, k); err != nil {
			return err
		}
	}
	if watchNotifications {
		out := cmd.OutOrStdout()
		err := engine.SubscribeNotifications(gctx, func(n store.Notification) {
			fmt.Fprintf(out, "[%s] %s: %s (%s)\n", n.CreatedAt.Format(time.Kitchen), n.Title, n.Body, n.Link)
		})
		if err != nil {
			return err
		}
	}

	logCounts(engine, kinds)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logCounts(engine, kinds)
			}
		}
	})
	return g.Wait()
}

func logCounts(engine *syncengine.Engine, kinds []store.Kind) {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, len(engine.List(k))))
	}
	logger.Sugar.Infof("Watching as %s: %s", engine.Actor().ID, strings.Join(parts, " "))
}
