package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
)

// binder registers flags whose defaults mirror config.Default and applies only the flags the
// user actually set, so a flag never clobbers a value from the config file or environment.
type binder struct {
	fs       *pflag.FlagSet
	defaults config.Config
	applies  []func(*config.Config)
}

func newBinder(fs *pflag.FlagSet) *binder {
	return &binder{fs: fs, defaults: config.Default()}
}

// Apply overlays every changed flag onto cfg.
func (b *binder) Apply(cfg *config.Config) {
	for _, apply := range b.applies {
		apply(cfg)
	}
}

func (b *binder) String(name, usage string, field func(*config.Config) *string) {
	b.fs.String(name, *field(&b.defaults), usage)
	b.applies = append(b.applies, func(c *config.Config) {
		if b.fs.Changed(name) {
			v, _ := b.fs.GetString(name)
			*field(c) = v
		}
	})
}

// Bool accepts --name, --name=yes and --name=false style values (true/1/yes/y, false/0/no/n).
func (b *binder) Bool(name, usage string, field func(*config.Config) *bool) {
	def := "false"
	if *field(&b.defaults) {
		def = "true"
	}
	b.fs.String(name, def, usage)
	b.fs.Lookup(name).NoOptDefVal = "true"
	_ = b.fs.SetAnnotation(name, boolAnnotation, []string{"true"})
	b.applies = append(b.applies, func(c *config.Config) {
		if b.fs.Changed(name) {
			v, _ := b.fs.GetString(name)
			dst := field(c)
			*dst = config.ParseBool(v, *dst)
		}
	})
}

func (b *binder) Int(name, usage string, field func(*config.Config) *int) {
	b.fs.Int(name, *field(&b.defaults), usage)
	b.applies = append(b.applies, func(c *config.Config) {
		if b.fs.Changed(name) {
			v, _ := b.fs.GetInt(name)
			*field(c) = v
		}
	})
}

func (b *binder) Float(name, usage string, field func(*config.Config) *float64) {
	b.fs.Float64(name, *field(&b.defaults), usage)
	b.applies = append(b.applies, func(c *config.Config) {
		if b.fs.Changed(name) {
			v, _ := b.fs.GetFloat64(name)
			*field(c) = v
		}
	})
}

// Millis binds a duration expressed in milliseconds.
func (b *binder) Millis(name, usage string, field func(*config.Config) *time.Duration) {
	b.fs.Int64(name, field(&b.defaults).Milliseconds(), usage)
	b.applies = append(b.applies, func(c *config.Config) {
		if b.fs.Changed(name) {
			v, _ := b.fs.GetInt64(name)
			*field(c) = time.Duration(v) * time.Millisecond
		}
	})
}

const boolAnnotation = "tedoori/bool"

// joinBoolValues rewrites "--flag value" into "--flag=value" for boolean flags when value is a
// boolean literal. pflag never consumes the next argument for a flag with a no-option default.
func joinBoolValues(root *cobra.Command, args []string) []string {
	boolFlags := make(map[string]bool)
	collect := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			if _, ok := f.Annotations[boolAnnotation]; ok {
				boolFlags[f.Name] = true
			}
		})
	}
	var walk func(*cobra.Command)
	walk = func(c *cobra.Command) {
		collect(c.LocalFlags())
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(root)

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}
		name, isLong := strings.CutPrefix(arg, "--")
		if isLong && !strings.Contains(name, "=") && boolFlags[name] && i+1 < len(args) {
			if _, ok := config.LookupBool(args[i+1]); ok {
				out = append(out, arg+"="+args[i+1])
				i++
				continue
			}
		}
		out = append(out, arg)
	}
	return out
}
