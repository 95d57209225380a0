package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
)

// hclFile is the native-syntax layout:
//
//	store_dir = "/home/root/.local/share/remarkable/xochitl"
//	targets   = ["Books", "Articles/hobby"]
//
//	window {
//	  start    = "23:00"
//	  end      = "08:00"
//	  timezone = "Europe/Amsterdam"
//	}
//
//	ui "systemd" {
//	  attempts = 40
//	}
type hclFile struct {
	StoreDir  string   `hcl:"store_dir,optional"`
	StateDir  string   `hcl:"state_dir,optional"`
	HiddenDir string   `hcl:"hidden_dir,optional"`
	Targets   []string `hcl:"targets,optional"`

	Window  *hclWindow  `hcl:"window,block"`
	Logging *hclLogging `hcl:"logging,block"`
	UI      *hclDriver  `hcl:"ui,block"`
	Network *hclDriver  `hcl:"network,block"`
	Journal *hclJournal `hcl:"journal,block"`
	Metrics *hclMetrics `hcl:"metrics,block"`
}

type hclWindow struct {
	Start    string `hcl:"start"`
	End      string `hcl:"end"`
	Timezone string `hcl:"timezone,optional"`
}

type hclLogging struct {
	Level  string `hcl:"level,optional"`
	Format string `hcl:"format,optional"`
	Output string `hcl:"output,optional"`
}

// hclDriver is a block labelled with the driver type; its attributes are
// the driver's options.
type hclDriver struct {
	Type    string   `hcl:"type,label"`
	Options hcl.Body `hcl:",remain"`
}

type hclJournal struct {
	Enabled   *bool  `hcl:"enabled,optional"`
	Retention string `hcl:"retention,optional"`
}

type hclMetrics struct {
	Textfile string `hcl:"textfile,optional"`
}

// readHCL decodes an HCL config file into the nested key map viper merges.
func readHCL(path string) (map[string]any, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeHCL(path, src)
}

func decodeHCL(filename string, src []byte) (map[string]any, error) {
	var f hclFile
	if err := hclsimple.Decode(filename, src, nil, &f); err != nil {
		return nil, err
	}

	out := map[string]any{}
	setString(out, "store_dir", f.StoreDir)
	setString(out, "state_dir", f.StateDir)
	setString(out, "hidden_dir", f.HiddenDir)
	if f.Targets != nil {
		out["targets"] = f.Targets
	}

	if w := f.Window; w != nil {
		section := map[string]any{"start": w.Start, "end": w.End}
		setString(section, "timezone", w.Timezone)
		out["window"] = section
	}
	if l := f.Logging; l != nil {
		section := map[string]any{}
		setString(section, "level", l.Level)
		setString(section, "format", l.Format)
		setString(section, "output", l.Output)
		out["logging"] = section
	}
	for key, d := range map[string]*hclDriver{"ui": f.UI, "network": f.Network} {
		if d == nil {
			continue
		}
		options, err := driverOptions(d)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", key, d.Type, err)
		}
		out[key] = map[string]any{"type": d.Type, d.Type: options}
	}
	if j := f.Journal; j != nil {
		section := map[string]any{}
		if j.Enabled != nil {
			section["enabled"] = *j.Enabled
		}
		setString(section, "retention", j.Retention)
		out["journal"] = section
	}
	if m := f.Metrics; m != nil {
		section := map[string]any{}
		setString(section, "textfile", m.Textfile)
		out["metrics"] = section
	}
	return out, nil
}

func driverOptions(d *hclDriver) (map[string]any, error) {
	options := map[string]any{}
	if d.Options == nil {
		return options, nil
	}
	attrs, diags := d.Options.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		goVal, err := fromCty(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		options[name] = goVal
	}
	return options, nil
}

// fromCty converts literal HCL values into the plain Go values mapstructure
// decodes.
func fromCty(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString(), nil
	case t == cty.Bool:
		return v.True(), nil
	case t == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			i, _ := bf.Int64()
			return int(i), nil
		}
		f, _ := bf.Float64()
		return f, nil
	case t.IsListType() || t.IsTupleType() || t.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			x, err := fromCty(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		}
		return out, nil
	case t.IsMapType() || t.IsObjectType():
		out := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			x, err := fromCty(ev)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = x
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported type %s", t.FriendlyName())
}

func setString(m map[string]any, key, val string) {
	if val != "" {
		m[key] = val
	}
}
