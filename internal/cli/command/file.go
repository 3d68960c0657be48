package command

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/otamesh-go/internal/cli/output"
	"github.com/yndnr/otamesh-go/internal/core/domain"
)

const (
	filesPath    = "/admin/v1/files"
	groupsPath   = "/admin/v1/package-groups"
	packagesPath = "/admin/v1/packages"
)

// FileCommand returns the file subcommand group.
func FileCommand() *cli.Command {
	return &cli.Command{
		Name:  "file",
		Usage: "Manage versioned files",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List file versions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "prefix", Usage: "Only paths with this prefix"},
				},
				Action: fileListAction,
			},
			{
				Name:      "get",
				Usage:     "Resolve a file key (path, path@version:N or path@tag:T)",
				ArgsUsage: "KEY",
				Action:    fileGet,
			},
			{
				Name:  "create",
				Usage: "Register the next version of a file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Required: true, Usage: "Logical file path"},
					&cli.StringFlag{Name: "url", Required: true, Usage: "Download URL"},
					&cli.StringFlag{Name: "checksum", Usage: "SHA-256 of the content, hex"},
					&cli.Int64Flag{Name: "size", Usage: "Content size in bytes (required with --checksum)"},
					&cli.StringFlag{Name: "tag", Usage: "Tag for the new version"},
					&cli.StringSliceFlag{Name: "metadata", Aliases: []string{"m"}, Usage: "Metadata as KEY=VALUE (repeatable)"},
				},
				Action: fileCreate,
			},
			{
				Name:      "tag",
				Usage:     "Point a tag at a file version",
				ArgsUsage: "KEY TAG",
				Action:    fileTag,
			},
		},
	}
}

// PackageCommand returns the package subcommand group.
func PackageCommand() *cli.Command {
	groupFlag := &cli.StringFlag{Name: "group", Aliases: []string{"g"}, Usage: "Package group ID (default: primary group)"}
	return &cli.Command{
		Name:    "package",
		Aliases: []string{"pkg"},
		Usage:   "Manage packages and package groups",
		Subcommands: []*cli.Command{
			{
				Name:   "groups",
				Usage:  "List package groups",
				Action: packageGroups,
			},
			{
				Name:      "group-create",
				Usage:     "Create a package group",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "primary", Usage: "Make this the primary group"},
				},
				Action: packageGroupCreate,
			},
			{
				Name:   "list",
				Usage:  "List package versions of a group",
				Flags:  []cli.Flag{groupFlag},
				Action: packageListAction,
			},
			{
				Name:      "get",
				Usage:     "Show a package version",
				ArgsUsage: "VERSION",
				Flags:     []cli.Flag{groupFlag},
				Action:    packageGet,
			},
			{
				Name:  "create",
				Usage: "Create the next package version of a group",
				Flags: []cli.Flag{
					groupFlag,
					&cli.StringFlag{Name: "name", Usage: "Display name"},
					&cli.StringFlag{Name: "index", Required: true, Usage: "Index file key"},
					&cli.StringSliceFlag{Name: "important", Usage: "File key downloaded before apply (repeatable)"},
					&cli.StringSliceFlag{Name: "lazy", Usage: "File key fetched on demand (repeatable)"},
					&cli.StringFlag{Name: "properties", Usage: "Package properties as JSON or @file"},
				},
				Action: packageCreate,
			},
		},
	}
}

// fileView is a file as returned by the server, with its pinned key.
type fileView struct {
	ID string `json:"id"`
	domain.File
}

type fileList []fileView

func (fs fileList) Table(wide bool) *output.Table {
	t := output.NewTable("ID", "TAG", "SIZE", "CREATED")
	if wide {
		t.Headers = append(t.Headers, "URL", "CHECKSUM")
	}
	for _, f := range fs {
		size := "-"
		if f.Size > 0 {
			size = output.FormatBytes(f.Size)
		}
		row := []string{f.ID, output.Value(f.Tag), size, output.Millis(f.CreatedAt)}
		if wide {
			row = append(row, f.URL, output.Value(f.Checksum))
		}
		t.AddRow(row...)
	}
	return t
}

func fileListAction(c *cli.Context) error {
	query := url.Values{}
	if p := c.String("prefix"); p != "" {
		query.Set("prefix", p)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var result list[fileView]
	if err := newClient(c).Get(ctx, filesPath, query, &result); err != nil {
		return err
	}
	return render(c, fileList(result.Items))
}

func fileGet(c *cli.Context) error {
	key, err := requireArg(c, "file key")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var f fileView
	if err := newClient(c).Get(ctx, filesPath+"/lookup", url.Values{"key": {key}}, &f); err != nil {
		return err
	}
	return render(c, &f)
}

func fileCreate(c *cli.Context) error {
	metadata, err := parsePairs(c.StringSlice("metadata"))
	if err != nil {
		return fmt.Errorf("--metadata: %w", err)
	}
	body := map[string]any{
		"file_path": c.String("path"),
		"url":       c.String("url"),
	}
	if v := c.String("checksum"); v != "" {
		body["checksum"] = strings.ToLower(v)
		body["size"] = c.Int64("size")
	}
	if v := c.String("tag"); v != "" {
		body["tag"] = v
	}
	if metadata != nil {
		body["metadata"] = metadata
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var f fileView
	if err := newClient(c).Post(ctx, filesPath, body, &f); err != nil {
		return err
	}
	return render(c, fileList{f})
}

func fileTag(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: file tag KEY TAG")
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var f fileView
	body := map[string]string{"key": c.Args().Get(0), "tag": c.Args().Get(1)}
	if err := newClient(c).Post(ctx, filesPath+"/tag", body, &f); err != nil {
		return err
	}
	return render(c, fileList{f})
}

type groupList []*domain.PackageGroup

func (gs groupList) Table(bool) *output.Table {
	t := output.NewTable("ID", "NAME", "PRIMARY", "CREATED")
	for _, g := range gs {
		t.AddRow(g.ID, g.Name, strconv.FormatBool(g.Primary), output.Millis(g.CreatedAt))
	}
	return t
}

type packageList []*domain.Package

func (ps packageList) Table(wide bool) *output.Table {
	t := output.NewTable("VERSION", "GROUP", "NAME", "INDEX")
	if wide {
		t.Headers = append(t.Headers, "IMPORTANT", "LAZY", "CREATED")
	}
	for _, p := range ps {
		row := []string{strconv.Itoa(p.Version), p.GroupID, output.Value(p.Name), p.Index}
		if wide {
			row = append(row, strconv.Itoa(len(p.Important)), strconv.Itoa(len(p.Lazy)), output.Millis(p.CreatedAt))
		}
		t.AddRow(row...)
	}
	return t
}

func packageGroups(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var result list[*domain.PackageGroup]
	if err := newClient(c).Get(ctx, groupsPath, nil, &result); err != nil {
		return err
	}
	return render(c, groupList(result.Items))
}

func packageGroupCreate(c *cli.Context) error {
	name, err := requireArg(c, "group name")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var g domain.PackageGroup
	body := map[string]any{"name": name, "primary": c.Bool("primary")}
	if err := newClient(c).Post(ctx, groupsPath, body, &g); err != nil {
		return err
	}
	return render(c, groupList{&g})
}

func groupQuery(c *cli.Context) url.Values {
	query := url.Values{}
	if g := c.String("group"); g != "" {
		query.Set("group_id", g)
	}
	return query
}

func packageListAction(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var result list[*domain.Package]
	if err := newClient(c).Get(ctx, packagesPath, groupQuery(c), &result); err != nil {
		return err
	}
	return render(c, packageList(result.Items))
}

func packageGet(c *cli.Context) error {
	version, err := requireArg(c, "package version")
	if err != nil {
		return err
	}
	if _, err := strconv.Atoi(version); err != nil {
		return fmt.Errorf("invalid package version %q", version)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var p domain.Package
	if err := newClient(c).Get(ctx, packagesPath+"/"+version, groupQuery(c), &p); err != nil {
		return err
	}
	return render(c, &p)
}

func packageCreate(c *cli.Context) error {
	body := map[string]any{
		"index": c.String("index"),
	}
	if g := c.String("group"); g != "" {
		body["group_id"] = g
	}
	if v := c.String("name"); v != "" {
		body["name"] = v
	}
	if v := c.StringSlice("important"); len(v) > 0 {
		body["important"] = v
	}
	if v := c.StringSlice("lazy"); len(v) > 0 {
		body["lazy"] = v
	}
	if v := c.String("properties"); v != "" {
		var props map[string]any
		if err := decodeJSONArg(v, &props); err != nil {
			return fmt.Errorf("--properties: %w", err)
		}
		body["properties"] = props
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var p domain.Package
	if err := newClient(c).Post(ctx, packagesPath, body, &p); err != nil {
		return err
	}
	return render(c, packageList{&p})
}
