package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/signedtoken"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

func newMintFileLinkCommand(e *env) *Command {
	cmd := &Command{
		Name:        "mint-file-link",
		Description: "Sign a time-limited link to a project document",
		Flags:       flag.NewFlagSet("mint-file-link", flag.ContinueOnError),
	}
	project := cmd.Flags.String("project", "", "Project id")
	docPath := cmd.Flags.String("path", "", "Document path within the project")
	ttl := cmd.Flags.Duration("ttl", 5*time.Minute, "Link lifetime")

	cmd.Run = func(_ context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		key, err := storage.ProjectKey(*project, *docPath)
		if err != nil {
			return err
		}
		codec, err := signedtoken.NewCodec([]byte(e.getenv("GATEHOUSE_SIGNED_TOKEN_SECRET")))
		if err != nil {
			return fmt.Errorf("GATEHOUSE_SIGNED_TOKEN_SECRET: %w", err)
		}
		token, err := codec.Mint(key, *ttl)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "/v1/files/%s\n", token)
		return nil
	}
	return cmd
}
