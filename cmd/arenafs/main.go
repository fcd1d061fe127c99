package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"arenafs/internal/arena"
	"arenafs/internal/config"
	"arenafs/internal/engine"
	"arenafs/internal/fs"
	"arenafs/internal/logging"
	"arenafs/internal/state"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

var (
	logger = logging.GetLogger()
)

// flags holds the command line. Flags left unset do not override the
// config file.
type flags struct {
	set        *pflag.FlagSet
	configPath string
	image      string
	size       string
	mount      string
	backups    int
	moveDirs   bool
	verbose    bool
	check      bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{set: pflag.NewFlagSet("arenafs", pflag.ContinueOnError)}
	f.set.StringVar(&f.configPath, "config", "", "config file (default: $"+config.EnvConfig+")")
	f.set.StringVar(&f.image, "image", "", "image file; empty keeps the filesystem in memory only")
	f.set.StringVar(&f.size, "size", "", "arena size for a new image, e.g. 64MiB")
	f.set.StringVar(&f.mount, "mount", "", "mount point")
	f.set.IntVar(&f.backups, "backups", 0, "number of image backups to keep")
	f.set.BoolVar(&f.moveDirs, "allow-directory-moves", false, "let rename move non-empty directories")
	f.set.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
	f.set.BoolVar(&f.check, "check", false, "check the image for consistency and exit")
	f.set.SetOutput(io.Discard)

	if err := f.set.Parse(args); err != nil {
		return nil, err
	}
	if f.set.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", f.set.Arg(0))
	}
	return f, nil
}

// loadConfig reads the config file and applies the flags on top.
func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.set.Changed("image") {
		cfg.Image.Path = f.image
	}
	if f.set.Changed("size") {
		cfg.Image.Size = f.size
	}
	if f.set.Changed("mount") {
		cfg.Mount.Point = f.mount
	}
	if f.set.Changed("backups") {
		cfg.Image.Backups = f.backups
	}
	if f.set.Changed("allow-directory-moves") {
		cfg.Engine.AllowDirectoryMoves = f.moveDirs
	}
	if f.verbose {
		cfg.Log.Level = logging.LevelDebug.String()
	}

	if err := cfg.Validate(engine.MinArenaSize); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openEngine maps the image and mounts the engine over it.
func openEngine(cfg *config.Config) (*engine.FS, *state.Manager, error) {
	size, err := cfg.ArenaSize()
	if err != nil {
		return nil, nil, err
	}
	manager, err := state.NewManager(cfg.Image.Path, int64(size), cfg.Image.Backups)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize state manager: %w", err)
	}
	img, err := manager.Open()
	if err != nil {
		return nil, nil, err
	}

	a, err := arena.New(img.Data)
	if err != nil {
		manager.Close()
		return nil, nil, err
	}
	uid, gid := fs.Owner()
	e, err := engine.New(a,
		engine.WithOwner(uid, gid),
		engine.WithDirectoryMoves(cfg.Engine.AllowDirectoryMoves),
	)
	if err != nil {
		manager.Close()
		return nil, nil, err
	}
	if img.Fresh {
		logger.Info("Formatted new %s image", humanize.IBytes(size))
	}
	return e, manager, nil
}

// runCheck verifies the image and reports its usage on out.
func runCheck(e *engine.FS, out io.Writer) error {
	if err := e.Check(); err != nil {
		return err
	}
	used, free := e.Usage()
	fmt.Fprintf(out, "image is consistent: %s used, %s free\n", humanize.IBytes(used), humanize.IBytes(free))
	return nil
}

func run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger.SetLevel(level)

	logger.Info("Starting arenafs...")
	logger.Debug("Image: %q (%s)", cfg.Image.Path, cfg.Image.Size)
	logger.Debug("Mount point: %s", cfg.Mount.Point)

	if !f.check && cfg.Mount.Point == "" {
		return errors.New("a mount point is required (--mount or mount.point)")
	}

	e, manager, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("Failed to close image: %v", err)
		}
	}()

	if f.check {
		return runCheck(e, os.Stdout)
	}

	cleanMount := filepath.Clean(cfg.Mount.Point)
	afs := fs.NewArenaFS(e, manager)

	logger.Debug("Setting up signal handlers...")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := afs.Mount(cleanMount, fs.MountOptions{
		FSName:     cfg.Mount.FSName,
		AllowOther: cfg.Mount.AllowOther,
	}); err != nil {
		return err
	}
	logger.Info("Filesystem mounted and ready")

	select {
	case sig := <-sigChan:
		logger.Info("Received signal %v", sig)
		if err := afs.Unmount(cleanMount); err != nil {
			logger.Error("Unmount error: %v", err)
		}
		<-afs.Done()
	case <-afs.Done():
		logger.Info("Filesystem was unmounted externally")
	}

	logger.Info("Clean shutdown complete")
	return nil
}

func printHelp() {
	f, _ := parseFlags(nil)
	fmt.Fprintf(os.Stderr, `arenafs - a FUSE filesystem kept in one fixed-size arena

Usage: arenafs --mount DIR [--image FILE] [flags]
       arenafs --check --image FILE

Flags:
%s`, f.set.FlagUsages())
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp()
			return
		}
		logger.Error("%v", err)
		os.Exit(1)
	}
}
