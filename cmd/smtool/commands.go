package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/secretmarket/internal/crypto"
	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/market"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "smtool",
		Short:         "participant tooling for a secretmarket instance",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newBlindingCmd(),
		newCommitmentCmd(),
		newSignCmd(),
		newEncryptKeyCmd(),
	)
	return root
}

func newBlindingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blinding",
		Short: "print a fresh random blinding factor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bf, err := market.NewBlindingFactor()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), bf.Hex())
			return nil
		},
	}
}

func newCommitmentCmd() *cobra.Command {
	var address, choice, blinding string
	cmd := &cobra.Command{
		Use:   "commitment",
		Short: "compute the commitment for an address, choice and blinding factor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !common.IsHexAddress(address) {
				return fmt.Errorf("--address %q is not an address", address)
			}
			c, bf, err := parseSecret(choice, blinding)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), market.ComputeCommitment(c, bf, common.HexToAddress(address)).Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "participant address")
	cmd.Flags().StringVar(&choice, "choice", "", "yes or no")
	cmd.Flags().StringVar(&blinding, "blinding", "", "32-byte hex blinding factor")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("choice")
	_ = cmd.MarkFlagRequired("blinding")
	return cmd
}

// signedRequests is what sign prints: the commitment plus ready-to-post
// bodies for POST /api/commit and POST /api/reveal.
type signedRequests struct {
	Address    string        `json:"address"`
	Commitment string        `json:"commitment"`
	Signature  string        `json:"signature"`
	Commit     commitRequest `json:"commit"`
	Reveal     revealRequest `json:"reveal"`
}

type commitRequest struct {
	Commitment string `json:"commitment"`
	Wager      string `json:"wager"`
	OnBehalfOf string `json:"on_behalf_of"`
	Signature  string `json:"signature"`
}

type revealRequest struct {
	Choice         domain.Choice `json:"choice"`
	BlindingFactor string        `json:"blinding_factor"`
	OnBehalfOf     string        `json:"on_behalf_of"`
	Signature      string        `json:"signature"`
}

func newSignCmd() *cobra.Command {
	var (
		src              crypto.KeySource
		choice, blinding string
		wager            string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "sign the relay authorization for a commit and its reveal",
		Long: "Computes the signer's commitment and signs it. The same signature " +
			"authorizes both the commit and the later reveal.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if src.Password == "" {
				src.Password = os.Getenv("SECRETMARKET_KEY_PASSWORD")
			}
			signer, err := crypto.LoadSigner(src)
			if err != nil {
				return err
			}
			c, bf, err := parseSecret(choice, blinding)
			if err != nil {
				return err
			}
			out, err := buildSignedRequests(signer, c, bf, wager)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&src.RawPrivateKey, "key", "", "hex private key (overrides --keystore)")
	cmd.Flags().StringVar(&src.KeystorePath, "keystore", "", "keystore file written by encrypt-key")
	cmd.Flags().StringVar(&src.Password, "password", "", "keystore password (default $SECRETMARKET_KEY_PASSWORD)")
	cmd.Flags().StringVar(&choice, "choice", "", "yes or no")
	cmd.Flags().StringVar(&blinding, "blinding", "", "32-byte hex blinding factor")
	cmd.Flags().StringVar(&wager, "wager", "", "fixed wager to put in the commit body")
	_ = cmd.MarkFlagRequired("choice")
	_ = cmd.MarkFlagRequired("blinding")
	return cmd
}

func buildSignedRequests(signer *crypto.Signer, c domain.Choice, bf market.BlindingFactor, wager string) (signedRequests, error) {
	commitment := signer.Commitment(c, bf)
	sig, err := signer.SignRelayHex(commitment)
	if err != nil {
		return signedRequests{}, err
	}
	addr := signer.Address().Hex()
	return signedRequests{
		Address:    addr,
		Commitment: commitment.Hex(),
		Signature:  sig,
		Commit: commitRequest{
			Commitment: commitment.Hex(),
			Wager:      wager,
			OnBehalfOf: addr,
			Signature:  sig,
		},
		Reveal: revealRequest{
			Choice:         c,
			BlindingFactor: bf.Hex(),
			OnBehalfOf:     addr,
			Signature:      sig,
		},
	}, nil
}

func newEncryptKeyCmd() *cobra.Command {
	var key, password, out string
	cmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "encrypt a private key into a keystore file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("SECRETMARKET_KEY_PASSWORD")
			}
			if key == "" {
				s, err := crypto.GenerateSigner()
				if err != nil {
					return err
				}
				key = s.PrivateKeyHex()
			}
			blob, err := crypto.EncryptKey(key, password)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(append(blob, '\n'))
				return err
			}
			if err := os.WriteFile(out, blob, 0o600); err != nil {
				return fmt.Errorf("write keystore: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "hex private key (default: generate one)")
	cmd.Flags().StringVar(&password, "password", "", "keystore password (default $SECRETMARKET_KEY_PASSWORD)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func parseSecret(choice, blinding string) (domain.Choice, market.BlindingFactor, error) {
	c, err := domain.ParseChoice(choice)
	if err != nil {
		return 0, market.BlindingFactor{}, err
	}
	if !c.Valid() {
		return 0, market.BlindingFactor{}, errors.New("--choice must be yes or no")
	}
	bf, err := market.ParseBlindingFactor(blinding)
	if err != nil {
		return 0, market.BlindingFactor{}, err
	}
	return c, bf, nil
}
