// Package fabricclient connects to the card-audit chaincode through the
// Fabric gateway and anchors settled transactions on the channel.
package fabricclient

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperledger/fabric-sdk-go/pkg/core/config"
	"github.com/hyperledger/fabric-sdk-go/pkg/gateway"
)

const identityLabel = "cardcore"

type Options struct {
	ConfigPath string
	WalletPath string
	Channel    string
	Chaincode  string
	MSPID      string
	CertPath   string
	KeyPath    string
}

type Client struct {
	gw       *gateway.Gateway
	contract *gateway.Contract
}

func NewClient(opts Options) (*Client, error) {
	walletPath := opts.WalletPath
	if walletPath == "" {
		walletPath = "wallet"
	}
	wallet, err := gateway.NewFileSystemWallet(walletPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	if !wallet.Exists(identityLabel) {
		if err := populateWallet(wallet, opts.MSPID, opts.CertPath, opts.KeyPath); err != nil {
			return nil, fmt.Errorf("failed to populate wallet: %w", err)
		}
	}

	gw, err := gateway.Connect(
		gateway.WithConfig(config.FromFile(filepath.Clean(opts.ConfigPath))),
		gateway.WithIdentity(wallet, identityLabel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway: %w", err)
	}

	network, err := gw.GetNetwork(opts.Channel)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("failed to get network %s: %w", opts.Channel, err)
	}

	return &Client{gw: gw, contract: network.GetContract(opts.Chaincode)}, nil
}

func (c *Client) SubmitTransaction(name string, args ...string) ([]byte, error) {
	return c.contract.SubmitTransaction(name, args...)
}

func (c *Client) EvaluateTransaction(name string, args ...string) ([]byte, error) {
	return c.contract.EvaluateTransaction(name, args...)
}

func (c *Client) Close() {
	c.gw.Close()
}

func populateWallet(wallet *gateway.Wallet, mspID, certPath, keyPath string) error {
	cert, err := os.ReadFile(filepath.Clean(certPath))
	if err != nil {
		return err
	}

	key, err := os.ReadFile(filepath.Clean(keyPath))
	if err != nil {
		return err
	}

	return wallet.Put(identityLabel, gateway.NewX509Identity(mspID, string(cert), string(key)))
}
