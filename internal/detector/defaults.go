package detector

// builtinPatterns are the stock device-log signatures, in registration order.
// Order matters: when a line matches several signatures the earliest wins.
var builtinPatterns = []Pattern{
	// Kernel and system crashes
	{`Kernel panic`, "KERNEL_PANIC"},
	{`Crashdump magic\[Collecting q6mem dump`, "CRASH_DUMP"},
	{`Call Trace`, "CALL_TRACE"},
	{`Target Asserted`, "Q6_CRASH"},
	{`Segmentation Fault|segfault`, "SEGMENTATION_FAULT"},
	{`Backtrace`, "BACKTRACE"},
	{`watchdog bite`, "WATCHDOG_BITE"},
	{`Oops`, "OOPS_TRACE"},

	// Memory
	{`page\+allocation\s+failure`, "PAGE_ALLOCATION_FAILURE"},
	{`Unable to handle kernel NULL pointer dereference`, "MEMORY_CORRUPTION"},
	{`Unable to handle kernel paging request`, "MEMORY_CORRUPTION"},
	{`Out of memory: Kill process`, "OUT_OF_MEMORY"},
	{`ERROR:NBUF alloc failed`, "LOW_MEMORY"},

	// Reboot loops
	{`Reboot Reason`, "DEVICE_REBOOT"},
	{`System restart`, "DEVICE_REBOOT"},
	{`Watchdog bark`, "WATCHDOG_REBOOT"},

	// Interfaces
	{`Interface down`, "INTERFACE_DOWN"},
	{`Link is down`, "INTERFACE_DOWN"},
	{`carrier lost`, "INTERFACE_DOWN"},
	{`entered disabled state`, "INTERFACE_DISABLED"},

	// Authentication
	{`authentication failed`, "AUTH_FAILURE"},
	{`Authentication timeout`, "AUTH_TIMEOUT"},
	{`Invalid credentials`, "AUTH_INVALID_CREDS"},
	{`Access denied`, "AUTH_ACCESS_DENIED"},

	// Network
	{`Packet loss`, "PACKET_LOSS"},
	{`High latency`, "HIGH_LATENCY"},
	{`Connection timeout`, "CONNECTION_TIMEOUT"},
	{`No route to host`, "NO_ROUTE"},
	{`Network unreachable`, "NETWORK_UNREACHABLE"},

	// Configuration
	{`Configuration mismatch`, "CONFIG_MISMATCH"},
	{`Invalid configuration`, "CONFIG_INVALID"},
	{`Configuration error`, "CONFIG_ERROR"},

	// PCI and hardware
	{`PCI\S+device\S+ID\S+mismatch`, "PCI_DEVICE_MISMATCH"},
	{`Hardware error`, "HARDWARE_ERROR"},

	// WiFi
	{`wlan_serialization_timer_handler`, "WLAN_SERIALIZATION_ISSUE"},
	{`mlme_connection_reset`, "AGENT_DISCONNECTION"},
	{`mlme_ext_vap_down`, "VAP_DOWN"},
	{`Received CSA`, "CHANNEL_SWITCH"},
	{`Steering is complete`, "STEERING_ISSUE"},
	{`Invalid beacon report`, "BEACON_REPORT_ISSUE"},

	// Resources
	{`Resource manager crash`, "RESOURCE_MANAGER_CRASH"},
	{`hostapd_core`, "HOSTAPD_CRASH"},

	// RCU and timing
	{`RCU.*detected stall`, "RCU_STALL"},
	{`timeout waiting`, "TIMEOUT"},

	// Warnings
	{`CPU:\d+ WARNING`, "CPU_WARNING"},
}

// DefaultPatterns returns a fresh copy of the built-in signatures.
func DefaultPatterns() []Pattern {
	out := make([]Pattern, len(builtinPatterns))
	copy(out, builtinPatterns)
	return out
}
