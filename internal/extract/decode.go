// Package extract decodes captured frames into DNS messages and folds the names they
// carry into domain batches.
package extract

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"

	"firestige.xyz/dgawatch/internal/core"
)

const dnsPort = 53

// Message is the part of a DNS message the pipeline cares about.
type Message struct {
	Response bool
	Rcode    int
	Names    []string
}

// Decoder parses frames of one link type. Not safe for concurrent use: the layer
// structs are reused across calls.
type Decoder struct {
	linkType      layers.LinkType
	caseSensitive bool

	parser4 *gopacket.DecodingLayerParser // frames starting at the link layer or IPv4
	parser6 *gopacket.DecodingLayerParser // raw IPv6 frames

	eth   layers.Ethernet
	sll   layers.LinuxSLL
	dot1q layers.Dot1Q
	ip4   layers.IPv4
	ip6   layers.IPv6
	udp   layers.UDP

	decoded []gopacket.LayerType
}

// NewDecoder creates a decoder for frames captured on linkType.
func NewDecoder(linkType layers.LinkType, caseSensitive bool) (*Decoder, error) {
	d := &Decoder{linkType: linkType, caseSensitive: caseSensitive}

	var first gopacket.LayerType
	switch linkType {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeLinuxSLL:
		first = layers.LayerTypeLinuxSLL
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		first = layers.LayerTypeIPv4
	case layers.LinkTypeIPv6:
		first = layers.LayerTypeIPv6
	default:
		return nil, fmt.Errorf("unsupported link type %s", linkType)
	}

	d.parser4 = gopacket.NewDecodingLayerParser(first, &d.eth, &d.sll, &d.dot1q, &d.ip4, &d.ip6, &d.udp)
	d.parser4.IgnoreUnsupported = true
	d.parser6 = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv6, &d.ip6, &d.udp)
	d.parser6.IgnoreUnsupported = true
	return d, nil
}

// Decode extracts the DNS message carried by frame. Non-UDP or non-port-53 frames
// return core.ErrNotDNS; undecodable frames or payloads return core.ErrMalformedPacket.
func (d *Decoder) Decode(frame []byte) (Message, error) {
	parser := d.parser4
	if d.linkType == layers.LinkTypeRaw && len(frame) > 0 && frame[0]>>4 == 6 {
		parser = d.parser6
	}

	d.decoded = d.decoded[:0]
	if err := parser.DecodeLayers(frame, &d.decoded); err != nil {
		return Message{}, fmt.Errorf("%w: %w", core.ErrMalformedPacket, err)
	}
	if !slices.Contains(d.decoded, layers.LayerTypeUDP) {
		return Message{}, core.ErrNotDNS
	}
	if d.udp.SrcPort != dnsPort && d.udp.DstPort != dnsPort {
		return Message{}, core.ErrNotDNS
	}

	var msg dns.Msg
	if err := msg.Unpack(d.udp.LayerPayload()); err != nil {
		return Message{}, fmt.Errorf("%w: dns: %w", core.ErrMalformedPacket, err)
	}

	out := Message{
		Response: msg.Response,
		Rcode:    msg.Rcode,
		Names:    make([]string, 0, len(msg.Question)+len(msg.Answer)),
	}
	for _, q := range msg.Question {
		out.Names = d.appendName(out.Names, q.Name)
	}
	for _, rr := range msg.Answer {
		out.Names = d.appendName(out.Names, rr.Header().Name)
	}
	return out, nil
}

func (d *Decoder) appendName(names []string, name string) []string {
	name = Normalize(name, d.caseSensitive)
	if name == "" {
		return names
	}
	return append(names, name)
}

// Normalize strips the trailing root dot and, unless caseSensitive, lower-cases name.
func Normalize(name string, caseSensitive bool) string {
	name = strings.TrimSuffix(name, ".")
	if !caseSensitive {
		name = strings.ToLower(name)
	}
	return name
}
