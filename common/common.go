package common

import "os"

// PackageName is the name the binaries report in logs and metrics.
var PackageName = "bitonet"

// Version is set at build time.
var Version = "dev"

func init() {
	if name := os.Getenv("BITONET_PACKAGE_NAME"); name != "" {
		PackageName = name
	}
}
