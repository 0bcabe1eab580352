package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/singed/scenelink/internal/config"
	"github.com/singed/scenelink/internal/core/scene"
	"github.com/singed/scenelink/internal/editor"
	"github.com/singed/scenelink/internal/injector"
)

const version = "0.1.0"

const usage = `Scene link: live scene editing client.

Usage:
    scenelink watch [options]
    scenelink save <path> [options]
    scenelink lightmaps <path> [--samples=<n>] [--steps=<n>] [--post=<n>] [options]
    scenelink types [options]
    scenelink -h | --help
    scenelink --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --config=<file>        YAML configuration file.
    --host=<host>          Engine host, overrides the configuration.
    --port=<port>          Engine port, overrides the configuration.
    --timeout=<duration>   Give up waiting for the engine after this long [default: 30s].
    --samples=<n>          Indirect sample sets per texel [default: 16].
    --steps=<n>            Accumulation steps [default: 1].
    --post=<n>             Post-process steps [default: 2].`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(opts docopt.Opts) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	e := injector.InitializeEditor(cfg)
	if err := e.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "Error closing session:", err)
		}
	}()

	if watch, _ := opts.Bool("watch"); watch {
		return watchScene(ctx, e, cfg.Editor.TickInterval)
	}

	timeout, err := durationOpt(opts, "--timeout")
	if err != nil {
		return err
	}
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	if save, _ := opts.Bool("save"); save {
		path, _ := opts.String("<path>")
		return saveScene(ctx, e, path)
	}
	if lightmaps, _ := opts.Bool("lightmaps"); lightmaps {
		params, err := lightmapParams(opts)
		if err != nil {
			return err
		}
		return generateLightmaps(ctx, e, params)
	}
	if types, _ := opts.Bool("types"); types {
		return listTypes(ctx, e)
	}
	return nil
}

func loadConfig(opts docopt.Opts) (config.Config, error) {
	path, _ := opts.String("--config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if host, _ := opts.String("--host"); host != "" {
		cfg.Session.Host = host
	}
	if port, _ := opts.String("--port"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return config.Config{}, fmt.Errorf("--port: %w", err)
		}
		cfg.Session.Port = p
	}
	return cfg, cfg.Validate()
}

// watchScene prints a summary every time the scene changes.
func watchScene(ctx context.Context, e *editor.Editor, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := e.Tick(now); err != nil {
				if fatal := e.Session.Err(); fatal != nil {
					return fatal
				}
				fmt.Fprintln(os.Stderr, "Warning:", err)
			}
			if !e.Scene.Loaded() {
				continue
			}
			if fp := e.Scene.Fingerprint(); fp != last {
				last = fp
				printSummary(e.Scene, fp)
			}
		}
	}
}

func printSummary(m *scene.Manager, fp uint64) {
	s := m.Stats()
	fmt.Printf("%s scene %016x: %d nodes, %d component types, %d instances\n",
		time.Now().Format(time.TimeOnly), fp, s.Nodes, s.ComponentTypes, s.Instances)
}

func saveScene(ctx context.Context, e *editor.Editor, path string) error {
	if err := e.Scene.SaveScene(path); err != nil {
		return err
	}
	err := e.Flush(ctx, func() bool {
		_, outbound := e.Session.Pending()
		return !e.Scene.Stats().PendingSave && outbound == 0
	})
	if err != nil {
		return err
	}
	fmt.Println("Save requested:", path)
	return nil
}

func lightmapParams(opts docopt.Opts) (scene.LightmapParams, error) {
	params := scene.DefaultLightmapParams()
	params.LightmapPath, _ = opts.String("<path>")

	var err error
	if params.NumIndirectSampleSets, err = intOpt(opts, "--samples"); err != nil {
		return params, err
	}
	if params.NumAccumulationSteps, err = intOpt(opts, "--steps"); err != nil {
		return params, err
	}
	if params.NumPostSteps, err = intOpt(opts, "--post"); err != nil {
		return params, err
	}
	return params, params.Validate()
}

func generateLightmaps(ctx context.Context, e *editor.Editor, params scene.LightmapParams) error {
	var elapsed time.Duration
	finished := false
	e.Scene.SetLightmapsGeneratedFunc(func(d time.Duration) {
		elapsed = d
		finished = true
	})

	if err := e.Scene.GenerateLightmaps(params); err != nil {
		return err
	}
	if err := e.Flush(ctx, func() bool { return finished }); err != nil {
		return err
	}
	fmt.Printf("Lightmaps written to %s in %s\n", params.LightmapPath, elapsed)
	return nil
}

func listTypes(ctx context.Context, e *editor.Editor) error {
	err := e.Flush(ctx, func() bool {
		return e.Scene.Loaded() &&
			len(e.Types.ComponentTypes()) > 0 &&
			len(e.Types.Pending()) == 0 &&
			len(e.Types.Waiting()) == 0
	})
	if err != nil {
		return err
	}

	for _, name := range e.Types.ComponentTypes() {
		fmt.Println(name)
	}
	return nil
}

func intOpt(opts docopt.Opts, key string) (int, error) {
	s, _ := opts.String(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func durationOpt(opts docopt.Opts, key string) (time.Duration, error) {
	s, _ := opts.String(key)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
