package device

import (
	"io"
	"redshift/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Diagnostic output is
	// written to w so the caller can prefix it consistently.
	DriverInit(w io.Writer) *kernel.Error
}

// ProbeFn checks for the presence of a particular piece of hardware and,
// if found, returns an initialized (but not yet DriverInit'd) Driver for
// it. It returns nil if the hardware is not present.
type ProbeFn func() Driver

// DetectOrder controls the relative position a driver's probe function
// runs at during DetectHardware; lower values run first.
type DetectOrder int

const (
	// DetectOrderEarly is reserved for drivers that later probes depend
	// on (e.g. console drivers, so their DriverInit can start accepting
	// diagnostic output from everything probed afterwards).
	DetectOrderEarly DetectOrder = iota

	// DetectOrderBeforeACPI runs after the early drivers but before ACPI
	// table parsing.
	DetectOrderBeforeACPI

	// DetectOrderACPI is used by the ACPI driver itself.
	DetectOrderACPI

	// DetectOrderLast runs after every other detection order.
	DetectOrderLast
)

// DriverInfo associates a ProbeFn with the order it should run at.
type DriverInfo struct {
	Order   DetectOrder
	ProbeFn ProbeFn
}

// Probe invokes the wrapped ProbeFn.
func (di *DriverInfo) Probe() Driver {
	return di.ProbeFn()
}

// DriverInfoList implements sort.Interface, ordering entries by ascending
// DetectOrder.
type DriverInfoList []*DriverInfo

func (l DriverInfoList) Len() int           { return len(l) }
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }
func (l DriverInfoList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

// registeredDrivers holds every DriverInfo registered via RegisterDriver.
var registeredDrivers []*DriverInfo

// RegisterDriver adds info to the set of drivers DetectHardware will probe.
// Drivers call this from an init() function.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns every registered DriverInfo.
func DriverList() DriverInfoList {
	return DriverInfoList(registeredDrivers)
}
