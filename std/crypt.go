// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package std

import (
	"crypto/sha1"
	"log"
	"strings"

	kcp "github.com/xtaci/kcp-go/v5"
	"golang.org/x/crypto/pbkdf2"
)

// SALT is the PBKDF2 salt shared by both ends of a link.
const SALT = "streamxfer"

// defaultCipher protects links whose crypt setting is unknown.
const defaultCipher = "aes"

// DeriveKey stretches the pre-shared secret into the 32 byte link key.
func DeriveKey(secret string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(SALT), 4096, 32, sha1.New)
}

// cipher is one packet cipher a link can run. keyLen truncates the derived
// key, 0 passes all 32 bytes.
type cipher struct {
	name   string
	keyLen int
	build  func(key []byte) (kcp.BlockCrypt, error)
}

// ciphers is ordered as listed in --crypt usage.
var ciphers = []cipher{
	{"aes", 0, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewAESBlockCrypt(k) }},
	{"aes-128", 16, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewAESBlockCrypt(k) }},
	{"aes-192", 24, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewAESBlockCrypt(k) }},
	{"salsa20", 0, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewSalsa20BlockCrypt(k) }},
	{"blowfish", 0, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewBlowfishBlockCrypt(k) }},
	{"twofish", 0, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewTwofishBlockCrypt(k) }},
	{"cast5", 16, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewCast5BlockCrypt(k) }},
	{"3des", 24, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewTripleDESBlockCrypt(k) }},
	{"tea", 16, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewTEABlockCrypt(k) }},
	{"xtea", 16, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewXTEABlockCrypt(k) }},
	{"xor", 0, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewSimpleXORBlockCrypt(k) }},
	{"sm4", 16, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewSM4BlockCrypt(k) }},
	{"none", 0, func(k []byte) (kcp.BlockCrypt, error) { return kcp.NewNoneBlockCrypt(k) }},
	{"null", 0, func([]byte) (kcp.BlockCrypt, error) { return nil, nil }},
}

func lookupCipher(name string) (cipher, bool) {
	for _, c := range ciphers {
		if c.name == name {
			return c, true
		}
	}
	return cipher{}, false
}

// CipherNames lists the accepted --crypt values.
func CipherNames() string {
	names := make([]string, len(ciphers))
	for i, c := range ciphers {
		names[i] = c.name
	}
	return strings.Join(names, ", ")
}

// SelectBlockCrypt builds the packet cipher for method from the derived key
// and reports the name actually in effect, which is aes when method is
// unknown or its constructor fails.
func SelectBlockCrypt(method string, key []byte) (kcp.BlockCrypt, string) {
	c, ok := lookupCipher(method)
	if !ok {
		c, _ = lookupCipher(defaultCipher)
	}
	k := key
	if c.keyLen > 0 && len(key) >= c.keyLen {
		k = key[:c.keyLen]
	}
	block, err := c.build(k)
	if err != nil && c.name != defaultCipher {
		log.Printf("crypt: %s: %v, falling back to %s", c.name, err, defaultCipher)
		return SelectBlockCrypt(defaultCipher, key)
	}
	if err != nil {
		log.Printf("crypt: %s: %v", c.name, err)
	}
	return block, c.name
}
