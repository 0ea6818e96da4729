// Command skdp-admin provisions the SKDP key hierarchy: it generates
// master, server, and device keys and writes their byte-exact encodings
// to disk. The keygen-master, keygen-server and keygen-device subcommands
// prompt interactively with huh when run
// without flags, matching this repo's preference for guided setup over
// bare positional arguments.
package main

import (
	"crypto/rand"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/keys"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
)

var (
	suiteName  string
	outputDir  string
	masterPath string
	serverID   string
	deviceID   string
)

func main() {
	root := &cobra.Command{Use: "skdp-admin", Short: "Provision SKDP key hierarchy material"}

	master := &cobra.Command{
		Use:   "keygen-master",
		Short: "Generate a new master key",
		RunE:  runKeygenMaster,
	}
	master.Flags().StringVar(&suiteName, "suite", "", "aes256gcm, rcs256, or rcs512 (prompted if omitted)")
	master.Flags().StringVar(&outputDir, "out", ".", "directory to write the .mkey file")

	server := &cobra.Command{
		Use:   "keygen-server",
		Short: "Derive a server key from a master key",
		RunE:  runKeygenServer,
	}
	server.Flags().StringVar(&masterPath, "master", "", ".mkey file to derive from (prompted if omitted)")
	server.Flags().StringVar(&serverID, "server-id", "", "server identifier, up to 4 bytes")
	server.Flags().StringVar(&outputDir, "out", ".", "directory to write the .skey file")

	device := &cobra.Command{
		Use:   "keygen-device",
		Short: "Derive a device key from a server key",
		RunE:  runKeygenDevice,
	}
	device.Flags().StringVar(&masterPath, "server-key", "", ".skey file to derive from (prompted if omitted)")
	device.Flags().StringVar(&deviceID, "device-id", "", "device identifier, up to 8 bytes")
	device.Flags().StringVar(&outputDir, "out", ".", "directory to write the .dkey file")

	root.AddCommand(master, server, device)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func resolveSuite(name string) (profile.Params, error) {
	if name == "" {
		var choice string
		prompt := huh.NewSelect[string]().
			Title("Select a cipher suite profile").
			Options(
				huh.NewOption("AES-256-GCM (256-bit profile)", "aes256gcm"),
				huh.NewOption("RCS-256 (256-bit profile)", "rcs256"),
				huh.NewOption("RCS-512 (512-bit profile)", "rcs512"),
			).
			Value(&choice)
		if err := huh.NewForm(huh.NewGroup(prompt)).Run(); err != nil {
			return profile.Params{}, err
		}
		name = choice
	}
	switch name {
	case "aes256gcm":
		return profile.AES256GCM(), nil
	case "rcs256":
		return profile.RCS256(), nil
	case "rcs512":
		return profile.RCS512(), nil
	default:
		return profile.Params{}, fmt.Errorf("unknown suite %q", name)
	}
}

func promptString(title, placeholder string) (string, error) {
	var value string
	input := huh.NewInput().Title(title).Placeholder(placeholder).Value(&value)
	if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
		return "", err
	}
	return value, nil
}

func runKeygenMaster(cmd *cobra.Command, args []string) error {
	params, err := resolveSuite(suiteName)
	if err != nil {
		return err
	}

	var mid [profile.MIDSize]byte
	if _, err := rand.Read(mid[:]); err != nil {
		return err
	}

	master, err := keys.GenerateMasterKey(rand.Reader, params, mid)
	if err != nil {
		return fmt.Errorf("generate master key: %w", err)
	}

	path := filepath.Join(outputDir, fmt.Sprintf("%x.mkey", master.KID[:]))
	if err := os.WriteFile(path, keys.EncodeMaster(master), 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("wrote master key %s (suite %s)\n", path, params.Suite)
	return nil
}

func runKeygenServer(cmd *cobra.Command, args []string) error {
	if masterPath == "" {
		p, err := promptString("Path to .mkey file", "./abcd1234.mkey")
		if err != nil {
			return err
		}
		masterPath = p
	}
	if serverID == "" {
		id, err := promptString("Server identifier (up to 4 bytes)", "srv1")
		if err != nil {
			return err
		}
		serverID = id
	}

	var lastErr error
	var master *keys.MasterKey
	var params profile.Params
	buf, err := os.ReadFile(masterPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", masterPath, err)
	}
	for _, candidate := range []profile.Params{profile.AES256GCM(), profile.RCS256(), profile.RCS512()} {
		master, lastErr = keys.DecodeMaster(buf, candidate)
		if lastErr == nil {
			params = candidate
			break
		}
	}
	if lastErr != nil {
		return fmt.Errorf("decode master key: %w", lastErr)
	}

	var sid [profile.SIDSize]byte
	copy(sid[:], []byte(serverID))
	var did [profile.DIDSize]byte
	kid := keys.NewKID(masterMID(master), sid, did)

	server, err := keys.DeriveServerKey(master, kid)
	if err != nil {
		return fmt.Errorf("derive server key: %w", err)
	}

	path := filepath.Join(outputDir, fmt.Sprintf("%x.skey", server.KID[:]))
	if err := os.WriteFile(path, keys.EncodeServer(server), 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("wrote server key %s (suite %s)\n", path, params.Suite)
	return nil
}

func masterMID(m *keys.MasterKey) [profile.MIDSize]byte {
	var mid [profile.MIDSize]byte
	copy(mid[:], m.KID.MID())
	return mid
}

func runKeygenDevice(cmd *cobra.Command, args []string) error {
	if masterPath == "" {
		p, err := promptString("Path to .skey file", "./abcd1234efgh5678.skey")
		if err != nil {
			return err
		}
		masterPath = p
	}
	if deviceID == "" {
		id, err := promptString("Device identifier (up to 8 bytes)", "phone-01")
		if err != nil {
			return err
		}
		deviceID = id
	}

	var lastErr error
	var server *keys.ServerKey
	var params profile.Params
	buf, err := os.ReadFile(masterPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", masterPath, err)
	}
	for _, candidate := range []profile.Params{profile.AES256GCM(), profile.RCS256(), profile.RCS512()} {
		server, lastErr = keys.DecodeServer(buf, candidate)
		if lastErr == nil {
			params = candidate
			break
		}
	}
	if lastErr != nil {
		return fmt.Errorf("decode server key: %w", lastErr)
	}

	var did [profile.DIDSize]byte
	copy(did[:], []byte(deviceID))
	var sid [profile.SIDSize]byte
	copy(sid[:], server.KID.SID())
	var mid [profile.MIDSize]byte
	copy(mid[:], server.KID.MID())
	kid := keys.NewKID(mid, sid, did)

	device, err := keys.DeriveDeviceKey(server, kid)
	if err != nil {
		return fmt.Errorf("derive device key: %w", err)
	}

	path := filepath.Join(outputDir, fmt.Sprintf("%x.dkey", device.KID[:]))
	if err := os.WriteFile(path, keys.EncodeDevice(device), 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("wrote device key %s (suite %s)\n", path, params.Suite)
	return nil
}
