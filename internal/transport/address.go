package transport

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultPort is the port every data center listens on for the TCP and WebSocket transports.
const DefaultPort = 443

var productionDCs = map[int]string{
	1: "149.154.175.53",
	2: "149.154.167.51",
	3: "149.154.175.100",
	4: "149.154.167.91",
	5: "91.108.56.130",
}

var testDCs = map[int]string{
	1: "149.154.175.10",
	2: "149.154.167.40",
	3: "149.154.175.117",
}

// Address returns host:port for a data center.
func Address(dcID int, testMode bool) (string, error) {
	table := productionDCs
	if testMode {
		table = testDCs
	}
	ip, ok := table[dcID]
	if !ok {
		return "", fmt.Errorf("%w: dc=%d test=%t", ErrUnknownDC, dcID, testMode)
	}
	return net.JoinHostPort(ip, strconv.Itoa(DefaultPort)), nil
}
