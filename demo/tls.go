// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package demo holds the small amount of plumbing the cmd binaries
// share: a throwaway TLS config for quic-go and the app-layer
// capability handshake used when the host quic-go build does not
// expose raw transport-parameter injection (SPEC_FULL.md §2 [ADD]).
package demo

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"time"
)

// GenerateTLSConfig returns a self-signed, single-certificate TLS
// config suitable for quic-go's Dial/Listen, mirroring the throwaway
// cert helper sockatz/common wires into QUICProxyConn when no real CA
// material is configured.
func GenerateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"deadlinequic-demo"},
	}, nil
}

// ClientTLSConfig returns a config that trusts the server's self-signed
// certificate without verification, appropriate only for this demo.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"deadlinequic-demo"},
	}
}
