package gen

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dkoval/netpatch/pkg/inventory"
)

// Files serves whole desired configs from a directory, one file per
// device, looked up as <hostname>.cfg then <fqdn>.cfg. A device with no
// file contributes nothing.
type Files struct {
	Dir string
}

func (f *Files) Name() string { return "files" }

func (f *Files) Render(dev inventory.Device) (string, error) {
	for _, name := range []string{dev.Hostname, dev.FQDN} {
		if name == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.Dir, name+".cfg"))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
	}
	return "", nil
}

// User is one account entry in a users YAML file.
type User struct {
	Name       string `yaml:"name"`
	Privilege  int    `yaml:"privilege"`
	Role       string `yaml:"role"`
	Secret     string `yaml:"secret"`
	NoPassword bool   `yaml:"nopassword"`
	// Tags restrict the account to devices carrying at least one of
	// them. Empty means every device.
	Tags []string `yaml:"tags"`
}

// Users renders username lines from declarative account data.
type Users struct {
	Accounts []User
}

// LoadUsers reads a users YAML file, a list of account entries.
func LoadUsers(path string) (*Users, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var accounts []User
	if err := yaml.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("users file %s: %w", path, err)
	}
	return &Users{Accounts: accounts}, nil
}

func (u *Users) Name() string { return "users" }

func (u *Users) Render(dev inventory.Device) (string, error) {
	accounts := make([]User, 0, len(u.Accounts))
	for _, a := range u.Accounts {
		if a.Name == "" {
			return "", fmt.Errorf("user entry without a name")
		}
		if matchesDevice(a.Tags, dev) {
			accounts = append(accounts, a)
		}
	}
	// Stable output regardless of file order.
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })

	var b strings.Builder
	for _, a := range accounts {
		b.WriteString("username ")
		b.WriteString(a.Name)
		if a.Privilege > 0 {
			fmt.Fprintf(&b, " privilege %d", a.Privilege)
		}
		if a.Role != "" {
			b.WriteString(" role ")
			b.WriteString(a.Role)
		}
		switch {
		case a.NoPassword:
			b.WriteString(" nopassword")
		case a.Secret != "":
			b.WriteString(" secret ")
			b.WriteString(a.Secret)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func matchesDevice(tags []string, dev inventory.Device) bool {
	if len(tags) == 0 {
		return true
	}
	for _, t := range tags {
		if dev.HasTag(t) {
			return true
		}
	}
	return false
}

// Banner emits a login banner line. The text may reference the device
// name via %s.
type Banner struct {
	Text string
}

func (b *Banner) Name() string { return "banner" }

func (b *Banner) Render(dev inventory.Device) (string, error) {
	if b.Text == "" {
		return "", nil
	}
	text := b.Text
	if strings.Contains(text, "%s") {
		text = fmt.Sprintf(text, dev.Name())
	}
	return "banner login " + text + "\n", nil
}
