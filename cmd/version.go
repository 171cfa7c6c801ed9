package cmd

import (
	"fmt"
	"runtime"

	"github.com/paulschiretz/pgl-profile-backup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-profile-backup/pkg/mirror"
)

// RunVersion prints the application version and the platform's default copy engine.
func RunVersion() error {
	fmt.Printf("%s version %s (%s/%s, default engine: %s)\n",
		buildinfo.Name, buildinfo.Version, runtime.GOOS, runtime.GOARCH, mirror.DefaultEngineKind())
	return nil
}
