package simnet

import (
	"fmt"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// ToWire renders p as an Ethernet/IPv4/TCP-or-UDP frame using gopacket,
// for trace dumps. Shadow's actual transport state machines
// (internal/transport) never parse this form — they operate on Packet
// directly — but emitting real wire bytes lets tracing tools
// (tcpdump-style) read the simulator's packets.
func ToWire(p *Packet) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    p.Src.Addr().AsSlice(),
		DstIP:    p.Dst.Addr().AsSlice(),
		Protocol: wireProtocol(p.Proto),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var payload gopacket.SerializableLayer = gopacket.Payload(p.Payload().Bytes())

	switch p.Proto {
	case ProtoTCP:
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(p.Src.Port()),
			DstPort: layers.TCPPort(p.Dst.Port()),
			Seq:     p.Seq,
			Ack:     p.Ack,
			SYN:     p.Flags&FlagSYN != 0,
			ACK:     p.Flags&FlagACK != 0,
			FIN:     p.Flags&FlagFIN != 0,
			RST:     p.Flags&FlagRST != 0,
			Window:  p.Window,
		}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, fmt.Errorf("simnet: set checksum network layer: %w", err)
		}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, payload); err != nil {
			return nil, fmt.Errorf("simnet: serialize tcp packet: %w", err)
		}
	case ProtoUDP:
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(p.Src.Port()),
			DstPort: layers.UDPPort(p.Dst.Port()),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, fmt.Errorf("simnet: set checksum network layer: %w", err)
		}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, payload); err != nil {
			return nil, fmt.Errorf("simnet: serialize udp packet: %w", err)
		}
	default:
		return nil, fmt.Errorf("simnet: unknown protocol %v", p.Proto)
	}

	return buf.Bytes(), nil
}

func wireProtocol(p Protocol) layers.IPProtocol {
	if p == ProtoUDP {
		return layers.IPProtocolUDP
	}
	return layers.IPProtocolTCP
}

// ParseWire decodes an Ethernet frame produced by ToWire back into its
// layers, for trace inspection tooling.
func ParseWire(data []byte) gopacket.Packet {
	return gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
}
