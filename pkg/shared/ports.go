// pkg/shared/ports.go
// Published ports of the managed services. These stay on the upstream
// defaults: integrations on the LAN (ESPHome, Zigbee2MQTT, phones) expect them.

package shared

const (
	PortHomeAssistant = 8123
	PortMosquitto     = 1883
	PortMosquittoWS   = 9001
	PortNodeRED       = 1880
	PortPortainer     = 9443
	PortPortainerEdge = 8000
)

// DockerBridgeGateway is the host as seen from containers on the default
// bridge network.
const DockerBridgeGateway = "172.17.0.1"
