package cmd

import (
	"fmt"
	"io"
)

const banner = `
  _                 _               _
 | |__   __ _ _ __ | | ____ _  __ _| |_ ___
 | '_ \ / _` + "`" + ` | '_ \| |/ / _` + "`" + ` |/ _` + "`" + ` | __/ _ \
 | |_) | (_| | | | |   < (_| | (_| | ||  __/
 |_.__/ \__,_|_| |_|_|\_\__, |\__,_|\__\___|
                        |___/
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Read-only Banking Gateway - Version %s\x1b[0m\n\n", Version)
}
