package cmd

import (
	"fmt"

	"github.com/kiosk404/cohort/pkg/version"
)

const bannerText = `
   ____      _                _
  / ___|___ | |__   ___  _ __| |_
 | |   / _ \| '_ \ / _ \| '__| __|
 | |__| (_) | | | | (_) | |  | |_
  \____\___/|_| |_|\___/|_|   \__|
`

// Banner returns the CLI banner string.
func Banner() string {
	return fmt.Sprintf("%s\n  Version: %s\n", bannerText, version.Get().String())
}
