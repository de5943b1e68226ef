package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/identity"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Show or rename this install's device identity",
	RunE:  runDeviceShow,
}

var deviceNicknameCmd = &cobra.Command{
	Use:   "nickname <name>",
	Short: "Set this device's display nickname",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeviceNickname,
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(deviceNicknameCmd)
}

func runDeviceShow(cmd *cobra.Command, args []string) error {
	d, err := identity.GetOrCreateDevice()
	if err != nil {
		return err
	}
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(d)
	}
	fmt.Printf("device_id: %s\nnickname:  %s\ncreated:   %s\n", d.DeviceID, d.Nickname, d.CreatedAt.Format("2006-01-02T15:04:05Z"))
	return nil
}

func runDeviceNickname(cmd *cobra.Command, args []string) error {
	d, err := identity.SetNickname(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("nickname set to %q\n", d.Nickname)
	return nil
}
