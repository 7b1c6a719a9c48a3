package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/jhunt/go-cli"
	env "github.com/jhunt/go-envirotron"
	fmt "github.com/jhunt/go-ansi"
	"github.com/jhunt/go-log"
	"github.com/jhunt/go-table"
	"github.com/mattn/go-isatty"

	"github.com/shieldproject/relstore/core"
	"github.com/shieldproject/relstore/core/ingest"
	"github.com/shieldproject/relstore/db"
	"github.com/shieldproject/relstore/tui"
)

var Version = ""

type Options struct {
	Help    bool   `cli:"-h, --help"`
	Version bool   `cli:"-v, --version"`
	Debug   bool   `cli:"-D, --debug"  env:"RELSTORE_DEBUG"`
	Config  string `cli:"-c, --config" env:"RELSTORE_CONFIG"`
	JSON    bool   `cli:"--json"`

	Setup struct{} `cli:"setup"`

	UploadRelease struct {
		Rebase   bool   `cli:"--rebase"`
		Fix      bool   `cli:"--fix"`
		Compiled bool   `cli:"--compiled"`
		Stemcell string `cli:"-s, --stemcell"`
		SHA1     string `cli:"--sha1"`
	} `cli:"upload-release"`

	Releases struct{} `cli:"releases"`
	Versions struct{} `cli:"versions"`

	Packages struct {
		Release string `cli:"-r, --release"`
		Name    string `cli:"-n, --name"`
	} `cli:"packages"`

	CompiledPackages struct {
		Stemcell string `cli:"-s, --stemcell"`
	} `cli:"compiled-packages"`

	Stemcells struct{} `cli:"stemcells"`

	UploadStemcell struct {
		Name    string `cli:"-n, --name"`
		OS      string `cli:"-o, --os"`
		Version string `cli:"-V, --stemcell-version"`
		CPI     string `cli:"--cpi"`
	} `cli:"upload-stemcell"`
}

func fail(rc int, m string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, m, args...)
	os.Exit(rc)
}

func bail(err error) {
	if err != nil {
		fail(2, "@R{!!! %s}\n", err)
	}
}

// oops is fail() for code that runs once the core is up; the caller
// returns the exit code so that deferred cleanup still happens.
func oops(rc int, m string, args ...interface{}) int {
	fmt.Fprintf(os.Stderr, m, args...)
	return rc
}

func usage() {
	fmt.Fprintf(os.Stderr, `USAGE: relstore [options] <command> [options]

    -h, --help       Show this help screen.
    -v, --version    Display the relstore version.
    -D, --debug      Enable debugging output.
    -c, --config     Path to the relstore configuration file.
        --json       Print listings as JSON.

Commands:

    setup               Create (or upgrade) the catalog database.

    upload-release      Ingest one or more release archives.
      --rebase            Store as the next version after the newest one.
      --fix               Re-upload blobs missing from the blobstore.
      --compiled          Expect a compiled release.
      -s, --stemcell      Stemcell (os/version) for compiled packages
                          that do not say which one they were built on.
      --sha1              Expected digest of the archive.

    releases            List releases.
    versions            List the versions of a release.
    packages            List packages (-r RELEASE, -n NAME).
    compiled-packages   List the compiled builds of a package.
    stemcells           List registered stemcells.
    upload-stemcell     Register a stemcell (-n NAME -o OS -V VERSION).
`)
}

func main() {
	var opts Options
	env.Override(&opts)

	command, args, err := cli.Parse(&opts)
	bail(err)

	fmt.ForceColor(isatty.IsTerminal(os.Stdout.Fd()) && isatty.IsTerminal(os.Stderr.Fd()))

	if opts.Help || (command == "" && !opts.Version) {
		usage()
		os.Exit(0)
	}

	if opts.Version {
		if Version == "" {
			fmt.Printf("relstore (development)\n")
		} else {
			fmt.Printf("relstore v%s\n", Version)
		}
		os.Exit(0)
	}

	level := "warning"
	if opts.Debug {
		level = "debug"
	} else if command == "upload-release" || command == "setup" {
		level = "info"
	}
	log.SetupLogging(log.LogConfig{
		Type:  "console",
		Level: level,
	})

	config, err := core.ReadConfig(opts.Config)
	bail(err)
	config.Debug = config.Debug || opts.Debug
	core.Version = Version

	c, err := core.New(config)
	bail(err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rc := run(ctx, c, opts, command, args)
	cancel()
	if err := c.Close(); err != nil {
		log.Errorf("unable to shut down cleanly: %s", err)
	}
	os.Exit(rc)
}

func run(ctx context.Context, c *core.Core, opts Options, command string, args []string) int {
	switch command {
	case "setup":
		fmt.Printf("@G{catalog is at schema v%d}\n", db.CurrentSchema)

	case "upload-release":
		if len(args) == 0 {
			return oops(1, "Usage: relstore %s [OPTIONS] ARCHIVE [ARCHIVE ...]\n", command)
		}

		o := ingest.DefaultOptions()
		o.Rebase = opts.UploadRelease.Rebase
		o.Fix = opts.UploadRelease.Fix
		o.Compiled = opts.UploadRelease.Compiled
		o.StemcellHint = opts.UploadRelease.Stemcell
		o.SHA1 = opts.UploadRelease.SHA1
		if o.SHA1 != "" && len(args) > 1 {
			return oops(1, "@R{--sha1 only makes sense when uploading a single archive}\n")
		}

		go func() {
			if err := c.ServeMetrics(ctx); err != nil {
				log.Errorf("%s", err)
			}
		}()

		uploads := c.UploadReleases(ctx, args, o)
		failed := 0
		for _, u := range uploads {
			if u.Err != nil {
				failed++
			}
		}

		if opts.JSON {
			l := make([]map[string]interface{}, 0, len(uploads))
			for _, u := range uploads {
				m := map[string]interface{}{"archive": u.Archive, "summary": u.Summary}
				if u.Err != nil {
					m["error"] = u.Err.Error()
				}
				l = append(l, m)
			}
			if err := printJSON(l); err != nil {
				return oops(2, "@R{!!! %s}\n", err)
			}
		} else {
			for _, u := range uploads {
				if u.Err != nil {
					fmt.Fprintf(os.Stderr, "@R{%s}: %s\n", u.Archive, u.Err)
					continue
				}
				s := u.Summary
				fmt.Printf("@G{%s/%s}\n", s.Release, s.Version)
				r := tui.NewReport()
				r.Add("Archive", u.Archive)
				r.Counts("Packages", s.Packages.Created, s.Packages.Reused)
				r.Counts("Jobs", s.Jobs.Created, s.Jobs.Reused)
				if s.Compiled.Created+s.Compiled.Reused > 0 {
					r.Counts("Compiled", s.Compiled.Created, s.Compiled.Reused)
				}
				r.Addf("Blobs", "%d written in %s", s.BlobWrites, s.Duration)
				r.Break()
				r.Output(os.Stdout)
			}
		}
		if failed > 0 {
			return 3
		}

	case "releases":
		l, err := c.DB.GetAllReleases()
		if err != nil {
			return oops(2, "@R{!!! %s}\n", err)
		}
		if opts.JSON {
			return jsonOut(l)
		}
		tbl := table.NewTable("UUID", "Name")
		for _, r := range l {
			tbl.Row(r, r.UUID, r.Name)
		}
		tbl.Output(os.Stdout)

	case "versions":
		if len(args) != 1 {
			return oops(1, "Usage: relstore %s RELEASE\n", command)
		}
		r, err := c.DB.GetRelease(args[0])
		if err != nil {
			return oops(2, "@R{!!! %s}\n", err)
		}
		if r == nil {
			return oops(1, "@R{release '%s' not found}\n", args[0])
		}
		l, err := c.DB.GetReleaseVersions(r.UUID)
		if err != nil {
			return oops(2, "@R{!!! %s}\n", err)
		}
		if opts.JSON {
			return jsonOut(l)
		}
		tbl := table.NewTable("Version", "Commit", "Uncommitted Changes", "Uploaded")
		for _, rv := range l {
			tbl.Row(rv, rv.Version, rv.CommitHash, yn(rv.UncommittedChanges), rv.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		tbl.Output(os.Stdout)

	case "packages":
		filter := &db.PackageFilter{Name: opts.Packages.Name}
		if opts.Packages.Release != "" {
			r, err := c.DB.GetRelease(opts.Packages.Release)
			if err != nil {
				return oops(2, "@R{!!! %s}\n", err)
			}
			if r == nil {
				return oops(1, "@R{release '%s' not found}\n", opts.Packages.Release)
			}
			filter.ForRelease = r.UUID
		}
		l, err := c.DB.GetAllPackages(filter)
		if err != nil {
			return oops(2, "@R{!!! %s}\n", err)
		}
		if opts.JSON {
			return jsonOut(l)
		}
		tbl := table.NewTable("UUID", "Name", "Version", "Fingerprint", "Source")
		for _, p := range l {
			tbl.Row(p, p.UUID, p.Name, p.Version, p.Fingerprint, yn(p.HasSource()))
		}
		tbl.Output(os.Stdout)

	case "compiled-packages":
		if len(args) != 1 {
			return oops(1, "Usage: relstore %s [--stemcell OS/VERSION] PACKAGE-UUID\n", command)
		}
		filter := &db.CompiledPackageFilter{ForPackage: args[0]}
		if opts.CompiledPackages.Stemcell != "" {
			sos, sversion, err := db.ParseStemcell(opts.CompiledPackages.Stemcell)
			if err != nil {
				return oops(1, "@R{!!! %s}\n", err)
			}
			filter.StemcellOS, filter.StemcellVersion = sos, sversion
		}
		l, err := c.DB.GetAllCompiledPackages(filter)
		if err != nil {
			return oops(2, "@R{!!! %s}\n", err)
		}
		if opts.JSON {
			return jsonOut(l)
		}
		tbl := table.NewTable("UUID", "Stemcell", "Build", "Dependency Key")
		for _, cp := range l {
			tbl.Row(cp, cp.UUID, cp.Stemcell(), fmt.Sprintf("%d", cp.Build), cp.DependencyKey)
		}
		tbl.Output(os.Stdout)

	case "stemcells":
		l, err := c.DB.GetAllStemcells()
		if err != nil {
			return oops(2, "@R{!!! %s}\n", err)
		}
		if opts.JSON {
			return jsonOut(l)
		}
		tbl := table.NewTable("UUID", "Name", "OS", "Version", "CPI")
		for _, s := range l {
			tbl.Row(s, s.UUID, s.Name, s.OperatingSystem, s.Version, s.CPI)
		}
		tbl.Output(os.Stdout)

	case "upload-stemcell":
		o := opts.UploadStemcell
		if o.Name == "" || o.OS == "" || o.Version == "" {
			return oops(1, "Usage: relstore %s --name NAME --os OS --stemcell-version VERSION [--cpi CPI]\n", command)
		}
		s, err := c.RegisterStemcell(o.Name, o.OS, o.Version, o.CPI)
		if err != nil {
			return oops(2, "@R{!!! %s}\n", err)
		}
		fmt.Printf("registered stemcell @G{%s/%s} (%s)\n", s.OperatingSystem, s.Version, s.UUID)

	default:
		usage()
		return oops(1, "@R{unrecognized command '%s'}\n", command)
	}
	return 0
}

func yn(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printJSON(thing interface{}) error {
	b, err := json.MarshalIndent(thing, "", "  ")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(b, '\n'))
	return err
}

func jsonOut(thing interface{}) int {
	if err := printJSON(thing); err != nil {
		return oops(2, "@R{!!! %s}\n", err)
	}
	return 0
}
