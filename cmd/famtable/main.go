// Command famtable is a CLI client for the shared family profile store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"famtable/internal/errs"
	"famtable/internal/model"
	"famtable/internal/session"
	"famtable/internal/store"
)

// ---- config/store ----

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "famtable")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "famtable")
}

func openStore() (*store.Sqlite, error) {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return nil, err
	}
	return store.OpenSqlite(filepath.Join(cfgDir(), "device.db"))
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatal(err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		fmt.Fprintln(os.Stderr, "error: no family found for those credentials — check your code")
	case errors.Is(err, errs.ErrDecryption):
		fmt.Fprintln(os.Stderr, "error: could not decrypt — check your family key")
	case errors.Is(err, errs.ErrUnavailable):
		fmt.Fprintln(os.Stderr, "error: relay unavailable")
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(1)
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func usage() {
	fmt.Fprintf(os.Stderr, `famtable CLI
Usage:
  famtable [-relay URL] <cmd> [args]

Commands:
  version
  create     -family <name> -name <you>
  join       -id <familyId> -key <familyKey> -name <you>
  joincode   -code <invite> -name <you>
  invite                                    (issue invite for current family)
  show                                      (current session as JSON)
  prefs      -diet a,b -cuisine c,d -flavor e,f
  favorite   -name <restaurant> [-cuisine c] [-rating 4.5] [-address a] [-map url]
  unfavorite -name <restaurant>
  export                                    (portable code to stdout)
  import     -code <portable>
  logout
  watch                                     (print session on every change)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against a session manager backed by the
// device-local store.
func main() {
	relayURL := flag.String("relay", os.Getenv("FAMTABLE_RELAY"), "relay base URL (empty: local only)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	if cmd == "version" {
		fmt.Printf("famtable %s (%s)\n", version, buildDate)
		return
	}

	kv, err := openStore()
	if err != nil {
		fatal(err)
	}
	defer kv.Close()

	mgr, err := session.NewManager(session.Config{
		Endpoint: *relayURL,
		Store:    kv,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "create":
		fs := flag.NewFlagSet("create", flag.ExitOnError)
		family := fs.String("family", "", "family display name")
		name := fs.String("name", "", "your display name")
		_ = fs.Parse(flag.Args()[1:])
		sess, err := mgr.CreateFamily(ctx, *family, *name)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("family created. share these to let others join:\n  id:  %s\n  key: %s\n", sess.FamilyID, sess.FamilyKey)

	case "join":
		fs := flag.NewFlagSet("join", flag.ExitOnError)
		id := fs.String("id", "", "family id")
		key := fs.String("key", "", "family key")
		name := fs.String("name", "", "your display name")
		_ = fs.Parse(flag.Args()[1:])
		sess, err := mgr.JoinFamily(ctx, *id, *key, *name)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("joined %q as %q (%d members)\n", sess.FamilyName, *name, len(sess.Members))

	case "joincode":
		fs := flag.NewFlagSet("joincode", flag.ExitOnError)
		code := fs.String("code", "", "invite code")
		name := fs.String("name", "", "your display name")
		_ = fs.Parse(flag.Args()[1:])
		sess, err := mgr.JoinByInviteCode(ctx, *code, *name)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("joined %q as %q (%d members)\n", sess.FamilyName, *name, len(sess.Members))

	case "invite":
		sess := mustSession(ctx, mgr)
		code, err := mgr.CreateInviteCode(ctx, sess)
		if err != nil {
			fatal(err)
		}
		fmt.Println(code)

	case "show":
		printJSON(mustSession(ctx, mgr))

	case "prefs":
		fs := flag.NewFlagSet("prefs", flag.ExitOnError)
		diet := fs.String("diet", "", "dietary restrictions, comma-separated")
		cuisine := fs.String("cuisine", "", "cuisine preferences, comma-separated")
		flavor := fs.String("flavor", "", "flavor preferences, comma-separated")
		_ = fs.Parse(flag.Args()[1:])
		sess := mustSession(ctx, mgr)
		me := sess.CurrentUser()
		if me == nil {
			fatal(fmt.Errorf("%w: no active member on this device", errs.ErrValidation))
		}
		if *diet != "" {
			me.DietaryRestrictions = splitTags(*diet)
		}
		if *cuisine != "" {
			me.CuisinePreferences = splitTags(*cuisine)
		}
		if *flavor != "" {
			me.FlavorPreferences = splitTags(*flavor)
		}
		if _, err := mgr.SaveSession(ctx, sess); err != nil {
			fatal(err)
		}
		printJSON(me)

	case "favorite":
		fs := flag.NewFlagSet("favorite", flag.ExitOnError)
		name := fs.String("name", "", "restaurant name")
		cuisine := fs.String("cuisine", "", "cuisine")
		rating := fs.Float64("rating", 0, "rating")
		address := fs.String("address", "", "address")
		mapURL := fs.String("map", "", "map link")
		_ = fs.Parse(flag.Args()[1:])
		if *name == "" {
			fatal(fmt.Errorf("%w: -name is required", errs.ErrValidation))
		}
		sess := mustSession(ctx, mgr)
		me := sess.CurrentUser()
		if me == nil {
			fatal(fmt.Errorf("%w: no active member on this device", errs.ErrValidation))
		}
		me.Favorites = append(me.Favorites, model.Restaurant{
			Name:    *name,
			Cuisine: *cuisine,
			Rating:  *rating,
			Address: *address,
			MapURL:  *mapURL,
			Source:  model.SourceFavorite,
		})
		if _, err := mgr.SaveSession(ctx, sess); err != nil {
			fatal(err)
		}
		printJSON(me.Favorites)

	case "unfavorite":
		fs := flag.NewFlagSet("unfavorite", flag.ExitOnError)
		name := fs.String("name", "", "restaurant name")
		_ = fs.Parse(flag.Args()[1:])
		sess := mustSession(ctx, mgr)
		me := sess.CurrentUser()
		if me == nil {
			fatal(fmt.Errorf("%w: no active member on this device", errs.ErrValidation))
		}
		kept := me.Favorites[:0]
		for _, r := range me.Favorites {
			if !strings.EqualFold(r.Name, *name) {
				kept = append(kept, r)
			}
		}
		me.Favorites = kept
		if _, err := mgr.SaveSession(ctx, sess); err != nil {
			fatal(err)
		}
		printJSON(me.Favorites)

	case "export":
		sess := mustSession(ctx, mgr)
		token, err := mgr.ExportPortableCode(sess)
		if err != nil {
			fatal(err)
		}
		fmt.Println(token)

	case "import":
		fs := flag.NewFlagSet("import", flag.ExitOnError)
		code := fs.String("code", "", "portable code")
		_ = fs.Parse(flag.Args()[1:])
		sess, err := mgr.ImportPortableCode(ctx, *code)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("imported %q (%d members)\n", sess.FamilyName, len(sess.Members))

	case "logout":
		if err := mgr.Logout(); err != nil {
			fatal(err)
		}
		fmt.Println("logged out (data kept; rejoin with your id and key)")

	case "watch":
		watch(mgr)

	default:
		usage()
	}
}

// mustSession restores the active session or exits.
func mustSession(ctx context.Context, mgr *session.Manager) *model.FamilySession {
	sess, err := mgr.AutoRejoin(ctx)
	if err != nil {
		fatal(err)
	}
	if sess == nil {
		fmt.Fprintln(os.Stderr, "no active session — create or join a family first")
		os.Exit(1)
	}
	return sess
}

// watch subscribes to changes and reprints the session until interrupted.
func watch(mgr *session.Manager) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := mustSession(ctx, mgr)
	printJSON(sess)

	unsub := mgr.Subscribe(sess.FamilyID, func() {
		loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fresh, err := mgr.LoadSession(loadCtx, sess.FamilyID, sess.FamilyKey)
		if err != nil || fresh == nil {
			fmt.Fprintln(os.Stderr, "reload failed:", err)
			return
		}
		printJSON(fresh)
	})
	defer unsub()

	<-ctx.Done()
}
