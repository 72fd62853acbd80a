// Command goftpctl is a thin, scriptable front-end over the ftp package. It
// carries no protocol logic of its own: every subcommand opens a Session,
// drives one or two of its operations, and reports the result.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	ftp "github.com/corvidftp/goftp"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		color.Red("goftpctl: %v", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "goftpctl"
	app.Usage = "drive an FTP session from the command line"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "host",
			Usage: "FTP server host",
			Value: "127.0.0.1",
		},
		cli.StringFlag{
			Name:  "port",
			Usage: "FTP server port",
			Value: "21",
		},
		cli.StringFlag{
			Name:  "user",
			Usage: "username",
			Value: "anonymous",
		},
		cli.StringFlag{
			Name:  "pass",
			Usage: "password",
			Value: "goftpctl@",
		},
		cli.BoolFlag{
			Name:  "active",
			Usage: "use active (PORT) data connections instead of passive (PASV)",
		},
		cli.DurationFlag{
			Name:  "dial-timeout",
			Usage: "bound on the initial TCP connect",
			Value: 30 * time.Second,
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress progress output",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "ls",
			Usage:     "list a remote directory",
			ArgsUsage: "[path]",
			Action:    withSession(actionList),
		},
		{
			Name:      "get",
			Usage:     "download a remote file",
			ArgsUsage: "<remote> [local]",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "binary", Usage: "use image (binary) transfer type"},
			},
			Action: withSession(actionGet),
		},
		{
			Name:      "put",
			Usage:     "upload a local file",
			ArgsUsage: "<local> [remote]",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "binary", Usage: "use image (binary) transfer type"},
			},
			Action: withSession(actionPut),
		},
		{
			Name:      "mkdir",
			Usage:     "create a remote directory",
			ArgsUsage: "<path>",
			Action:    withSession(actionMkdir),
		},
		{
			Name:      "rm",
			Usage:     "delete a remote file",
			ArgsUsage: "<path>",
			Action:    withSession(actionRemove),
		},
		{
			Name:      "pwd",
			Usage:     "print the current remote directory",
			ArgsUsage: "",
			Action:    withSession(actionPwd),
		},
	}
	return app
}

// withSession wraps a command action with the connect/login/quit
// boilerplate every subcommand shares.
func withSession(fn func(c *cli.Context, s *ftp.Session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		opts := []ftp.DialOption{
			ftp.WithDialTimeout(c.GlobalDuration("dial-timeout")),
			ftp.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))),
		}
		if c.GlobalBool("active") {
			opts = append(opts, ftp.WithActiveMode())
		}

		s, err := ftp.Connect(c.GlobalString("host"), c.GlobalString("port"), opts...)
		if err != nil {
			return errors.Wrap(err, "connect")
		}
		defer s.Quit()

		if err := s.Login(c.GlobalString("user"), c.GlobalString("pass")); err != nil {
			return errors.Wrap(err, "login")
		}

		if !c.GlobalBool("quiet") {
			s.SetCallback(ftp.CallbackOptions{
				BytesThresh: 256 * 1024,
				Func:        progressCallback,
			})
		}

		return fn(c, s)
	}
}

func progressCallback(ds *ftp.DataStream, total int64, arg any) bool {
	fmt.Fprintf(os.Stderr, "\r%s %s", color.CyanString("transferred"), color.YellowString("%d bytes", total))
	return true
}

func actionList(c *cli.Context, s *ftp.Session) error {
	path := c.Args().First()
	if path == "" {
		path = "."
	}
	lines, err := s.List(path)
	if err != nil {
		return errors.Wrap(err, "list")
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func actionGet(c *cli.Context, s *ftp.Session) error {
	remote := c.Args().Get(0)
	if remote == "" {
		return errors.New("get requires a remote path")
	}
	local := c.Args().Get(1)
	if local == "" {
		local = remote[trailingSlash(remote)+1:]
	}
	mode := ftp.TypeASCII
	if c.Bool("binary") {
		mode = ftp.TypeImage
	}
	if err := s.Get(local, remote, mode); err != nil {
		return errors.Wrap(err, "get")
	}
	if !c.GlobalBool("quiet") {
		fmt.Fprintln(os.Stderr)
		color.Green("saved %s", local)
	}
	return nil
}

func actionPut(c *cli.Context, s *ftp.Session) error {
	local := c.Args().Get(0)
	if local == "" {
		return errors.New("put requires a local path")
	}
	remote := c.Args().Get(1)
	if remote == "" {
		remote = local[trailingSlash(local)+1:]
	}
	mode := ftp.TypeASCII
	if c.Bool("binary") {
		mode = ftp.TypeImage
	}
	if err := s.Put(local, remote, mode); err != nil {
		return errors.Wrap(err, "put")
	}
	if !c.GlobalBool("quiet") {
		fmt.Fprintln(os.Stderr)
		color.Green("uploaded %s", remote)
	}
	return nil
}

func actionMkdir(c *cli.Context, s *ftp.Session) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("mkdir requires a path")
	}
	if err := s.MakeDir(path); err != nil {
		return errors.Wrap(err, "mkdir")
	}
	color.Green("created %s", path)
	return nil
}

func actionRemove(c *cli.Context, s *ftp.Session) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("rm requires a path")
	}
	if err := s.Delete(path); err != nil {
		return errors.Wrap(err, "rm")
	}
	color.Green("removed %s", path)
	return nil
}

func actionPwd(c *cli.Context, s *ftp.Session) error {
	pwd, err := s.Pwd()
	if err != nil {
		return errors.Wrap(err, "pwd")
	}
	fmt.Println(pwd)
	return nil
}

func trailingSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}
