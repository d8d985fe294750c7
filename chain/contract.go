/*
Copyright 2025 Certforge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// registryABI is the certificate registry contract surface the issuer uses:
// minting, role checks and on-chain reads.
const registryABI = `[
	{
		"type": "function",
		"name": "mintCertificate",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "student", "type": "string"},
			{"name": "courseId", "type": "string"},
			{"name": "courseName", "type": "string"},
			{"name": "completionTimestamp", "type": "uint256"},
			{"name": "metadataHash", "type": "string"}
		],
		"outputs": [{"name": "certificateId", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "getCertificate",
		"stateMutability": "view",
		"inputs": [{"name": "certificateId", "type": "uint256"}],
		"outputs": [
			{"name": "student", "type": "string"},
			{"name": "courseName", "type": "string"},
			{"name": "metadataHash", "type": "string"},
			{"name": "isValid", "type": "bool"}
		]
	},
	{
		"type": "function",
		"name": "hasRole",
		"stateMutability": "view",
		"inputs": [
			{"name": "role", "type": "bytes32"},
			{"name": "account", "type": "address"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"type": "event",
		"name": "CertificateMinted",
		"inputs": [
			{"name": "studentHash", "type": "bytes32", "indexed": true},
			{"name": "certificateId", "type": "uint256", "indexed": true},
			{"name": "metadataHash", "type": "string", "indexed": false}
		],
		"anonymous": false
	}
]`

var (
	// minterRole matches the registry contract's access-control constant.
	minterRole = gethcrypto.Keccak256Hash([]byte("MINTER_ROLE"))

	// certificateMintedSignature is the topic0 of the CertificateMinted event.
	certificateMintedSignature = gethcrypto.Keccak256Hash([]byte("CertificateMinted(bytes32,uint256,string)"))
)

func parseRegistryABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(registryABI))
}
