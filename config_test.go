package main_test

import (
	"context"
	_ "embed"
	"strings"
	"testing"

	main "github.com/zephyrtronium/pollbot"
)

//go:embed example.toml
var exampleToml string

func eqcase[T comparable](t *testing.T, name string, val T, eq T) {
	t.Helper()
	if val != eq {
		t.Errorf("wrong %s: want %#v, got %#v", name, eq, val)
	}
}

func TestExampleConfig(t *testing.T) {
	cfg, _, err := main.Load(context.Background(), strings.NewReader(exampleToml))
	if err != nil {
		t.Fatalf("failed to load example.toml: %v", err)
	}

	eqcase(t, "Owner.Name", cfg.Owner.Name, `zephyrtronium`)
	eqcase(t, "Owner.Contact", cfg.Owner.Contact, `zephyrtronium on Discord`)
	eqcase(t, "Owner.ID", cfg.Owner.ID, `111122223333444455`)
	eqcase(t, "DB.KVFlag", cfg.DB.KVFlag, "")
	eqcase(t, "Discord.Prefix", cfg.Discord.Prefix, "!")
	eqcase(t, "Discord.Rate.Every", cfg.Discord.Rate.Every, 1)
	eqcase(t, "Discord.Rate.Num", cfg.Discord.Rate.Num, 5)
	eqcase(t, "HTTP.Listen", cfg.HTTP.Listen, ":4959")
	eqcase(t, "Polls.Sweep", cfg.Polls.Sweep, "* * * * *")
	eqcase(t, "Polls.TallyDelay", cfg.Polls.TallyDelay, 3600)
	eqcase(t, "Polls.Resend", cfg.Polls.Resend, 10)
	eqcase(t, "Global.Emotes[``]", cfg.Global.Emotes[``], 4)
	eqcase(t, "Global.Emotes[`🎉`]", cfg.Global.Emotes[`🎉`], 1)
	eqcase(t, "Servers[`kessoku`].ID", cfg.Servers[`kessoku`].ID, `900000000000000001`)
	eqcase(t, "Servers[`kessoku`].Admins[0]", cfg.Servers[`kessoku`].Admins[0], `900000000000000002`)
	eqcase(t, "Servers[`kessoku`].Export[0]", cfg.Servers[`kessoku`].Export[0], `900000000000000003`)
	eqcase(t, "Servers[`kessoku`].Emotes[`🎸`]", cfg.Servers[`kessoku`].Emotes[`🎸`], 2)
	eqcase(t, "Servers[`kessoku`].Rate.Every", cfg.Servers[`kessoku`].Rate.Every, 10.5)
	eqcase(t, "Servers[`kessoku`].Rate.Num", cfg.Servers[`kessoku`].Rate.Num, 3)
	substrings := []struct {
		name string
		val  string
		has  string
	}{
		{"SecretFile", cfg.SecretFile, "/key"},
		{"DB.Store", cfg.DB.Store, "/store"},
		{"DB.Audit", cfg.DB.Audit, "file:"},
		{"DB.Privacy", cfg.DB.Privacy, "file:"},
		{"Discord.TokenFile", cfg.Discord.TokenFile, "/discord_token"},
	}
	for _, c := range substrings {
		if !strings.Contains(c.val, c.has) {
			t.Errorf("wrong %s: %q does not contain %q", c.name, c.val, c.has)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	const minimal = `
secret = '/key'
[servers.kessoku]
id = '1'
`
	cfg, _, err := main.Load(context.Background(), strings.NewReader(minimal))
	if err != nil {
		t.Fatalf("failed to load minimal config: %v", err)
	}
	eqcase(t, "Discord.Prefix", cfg.Discord.Prefix, "!")
	eqcase(t, "Polls.Sweep", cfg.Polls.Sweep, "* * * * *")
	eqcase(t, "Polls.Resend", cfg.Polls.Resend, 10)
	eqcase(t, "Polls.TallyDelay", cfg.Polls.TallyDelay, 0)
}

func TestConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  string
	}{
		{"syntax", "secret = "},
		{"sweep", "[polls]\nsweep = 'every now and then'"},
		{"server", "[servers.kessoku]\nadmins = ['1']"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, _, err := main.Load(context.Background(), strings.NewReader(c.cfg)); err == nil {
				t.Errorf("no error loading %q", c.cfg)
			}
		})
	}
}
