package webrtc

import (
	"net"
	"net/netip"

	"github.com/pion/webrtc/v4"
)

// placeholder stands in for an endpoint whose candidate address is not an
// IP literal (mDNS). A Peer has exactly one remote, so any stable value
// works as the session key.
var placeholder = netip.AddrPortFrom(netip.IPv6Unspecified(), 0)

// resolveAddrs records the addresses of the selected candidate pair.
func (p *Peer) resolveAddrs() {
	local, remote := placeholder, placeholder

	if sctp := p.pc.SCTP(); sctp != nil {
		if pair, err := sctp.Transport().ICETransport().GetSelectedCandidatePair(); err == nil && pair != nil {
			local = candidateAddr(pair.Local)
			remote = candidateAddr(pair.Remote)
		}
	}

	p.mu.Lock()
	p.local, p.remote = local, remote
	p.mu.Unlock()
}

func candidateAddr(c *webrtc.ICECandidate) netip.AddrPort {
	if c == nil {
		return placeholder
	}
	addr, err := netip.ParseAddr(c.Address)
	if err != nil {
		return placeholder
	}
	return netip.AddrPortFrom(addr.Unmap(), c.Port)
}

// RemoteAddr returns the remote endpoint of the selected candidate pair.
func (p *Peer) RemoteAddr() netip.AddrPort {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remote
}

// ReadFrom blocks until a message arrives and reports it as coming from the
// remote candidate. It returns net.ErrClosed once the Peer is done.
func (p *Peer) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	select {
	case data := <-p.inbox:
		return copy(b, data), p.RemoteAddr(), nil
	case <-p.ctx.Done():
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

// WriteTo sends b over the DataChannel. The address is ignored since a Peer
// only reaches one endpoint. Writes wait for the channel to open and pause
// while the buffered amount is above the high water mark.
func (p *Peer) WriteTo(b []byte, _ netip.AddrPort) (int, error) {
	select {
	case <-p.openSignal:
	case <-p.ctx.Done():
		return 0, net.ErrClosed
	}

	if p.dc.BufferedAmount() > uint64(highWaterMark) {
		select {
		case <-p.drainSignal:
		case <-p.ctx.Done():
			return 0, net.ErrClosed
		}
	}

	if err := p.dc.Send(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// LocalAddr returns the local endpoint of the selected candidate pair.
func (p *Peer) LocalAddr() netip.AddrPort {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.local
}
