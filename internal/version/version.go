// ABOUTME: Build and product identification for the relay and player
// ABOUTME: Version is overridable at link time with -ldflags -X
package version

// Version is set at build time
var Version = "0.1.0"

const (
	Product      = "Zync"
	Manufacturer = "Zync Contributors"
)

// String returns "Product Version"
func String() string {
	return Product + " " + Version
}
