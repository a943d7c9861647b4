package rdpwire

import (
	"bytes"
	"encoding/asn1"
	"fmt"
	"io"
)

// CredSSP (MS-CSSP) runs directly on the TLS stream before any TPKT
// traffic. The SPNEGO-style token carrier wraps an NTLMv2 exchange, then
// the server's public key is echoed under the NTLM sealing handles to
// bind the authentication to this TLS session.

const credSSPVersion = 2

type tsRequest struct {
	Version    int         `asn1:"explicit,tag:0"`
	NegoTokens []negoToken `asn1:"optional,explicit,tag:1"`
	AuthInfo   []byte      `asn1:"optional,explicit,tag:2"`
	PubKeyAuth []byte      `asn1:"optional,explicit,tag:3"`
	ErrorCode  int         `asn1:"optional,explicit,tag:4"`
}

type negoToken struct {
	Token []byte `asn1:"explicit,tag:0"`
}

type tsCredentials struct {
	CredType    int    `asn1:"explicit,tag:0"`
	Credentials []byte `asn1:"explicit,tag:1"`
}

type tsPasswordCreds struct {
	DomainName []byte `asn1:"explicit,tag:0"`
	UserName   []byte `asn1:"explicit,tag:1"`
	Password   []byte `asn1:"explicit,tag:2"`
}

// runCredSSP performs NLA over rw using NTLMv2. serverPubKey is the DER
// SubjectPublicKeyInfo of the TLS peer certificate.
func runCredSSP(rw io.ReadWriter, user, password, domain string, serverPubKey []byte) error {
	ntlm := newNTLMContext(user, password, domain)

	if err := writeTSRequest(rw, tsRequest{
		Version:    credSSPVersion,
		NegoTokens: []negoToken{{Token: ntlm.negotiate()}},
	}); err != nil {
		return err
	}

	challenge, err := readTSRequest(rw)
	if err != nil {
		return err
	}
	if len(challenge.NegoTokens) == 0 {
		return fmt.Errorf("rdpwire: CredSSP response carries no NTLM challenge")
	}

	authMsg, err := ntlm.authenticate(challenge.NegoTokens[0].Token)
	if err != nil {
		return err
	}
	if err := writeTSRequest(rw, tsRequest{
		Version:    credSSPVersion,
		NegoTokens: []negoToken{{Token: authMsg}},
		PubKeyAuth: ntlm.seal(serverPubKey),
	}); err != nil {
		return err
	}

	resp, err := readTSRequest(rw)
	if err != nil {
		return err
	}
	if len(resp.PubKeyAuth) == 0 {
		if resp.ErrorCode != 0 {
			return fmt.Errorf("rdpwire: CredSSP rejected credentials (NTSTATUS 0x%08x)", uint32(resp.ErrorCode))
		}
		return fmt.Errorf("rdpwire: CredSSP response carries no public key echo")
	}
	echoed, err := ntlm.unseal(resp.PubKeyAuth)
	if err != nil {
		return err
	}
	if err := verifyPubKeyEcho(serverPubKey, echoed); err != nil {
		return err
	}

	creds, err := encodeCredentials(user, password, domain)
	if err != nil {
		return err
	}
	return writeTSRequest(rw, tsRequest{
		Version:  credSSPVersion,
		AuthInfo: ntlm.seal(creds),
	})
}

// verifyPubKeyEcho checks the server's proof of possession: the echoed key
// must be the original with its first byte incremented.
func verifyPubKeyEcho(sent, echoed []byte) error {
	if len(echoed) != len(sent) || len(sent) == 0 {
		return fmt.Errorf("rdpwire: CredSSP public key echo length mismatch")
	}
	if echoed[0] != sent[0]+1 || !bytes.Equal(echoed[1:], sent[1:]) {
		return fmt.Errorf("rdpwire: CredSSP public key echo mismatch")
	}
	return nil
}

func encodeCredentials(user, password, domain string) ([]byte, error) {
	passwordCreds, err := asn1.Marshal(tsPasswordCreds{
		DomainName: utf16LE(domain),
		UserName:   utf16LE(user),
		Password:   utf16LE(password),
	})
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(tsCredentials{CredType: 1, Credentials: passwordCreds})
}

func writeTSRequest(w io.Writer, req tsRequest) error {
	der, err := asn1.Marshal(req)
	if err != nil {
		return err
	}
	_, err = w.Write(der)
	return err
}

// readTSRequest reads exactly one DER-encoded TSRequest from r. CredSSP
// messages are not TPKT framed, so the length comes from the DER header.
func readTSRequest(r io.Reader) (tsRequest, error) {
	var req tsRequest

	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return req, err
	}
	length := int(header[1])
	if header[1]&0x80 != 0 {
		n := int(header[1] & 0x7f)
		if n == 0 || n > 4 {
			return req, fmt.Errorf("rdpwire: unsupported DER length form")
		}
		ext := make([]byte, n)
		if _, err := io.ReadFull(r, ext); err != nil {
			return req, err
		}
		header = append(header, ext...)
		length = 0
		for _, b := range ext {
			length = length<<8 | int(b)
		}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return req, err
	}
	if _, err := asn1.Unmarshal(append(header, body...), &req); err != nil {
		return req, fmt.Errorf("rdpwire: malformed TSRequest: %w", err)
	}
	return req, nil
}
