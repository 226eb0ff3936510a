// Command ccmctl inspects a running cluster through each node's admin API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dd0wney/cluso-ccm/pkg/auth"
	"github.com/dd0wney/cluso-ccm/pkg/clusterfile"
	"github.com/dd0wney/cluso-ccm/pkg/server"
)

const usage = `usage: ccmctl <command> [flags]

commands:
  status   poll every node's /membership and report convergence
  wait     poll until every reachable node agrees, or time out
  leave    ask one node to leave the cluster gracefully
  token    mint an admin token from the cluster's jwt_secret
  audit    show a node's recent admin audit trail
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "status":
		err = cmdStatus(os.Args[2:])
	case "wait":
		err = cmdWait(os.Args[2:])
	case "leave":
		err = cmdLeave(os.Args[2:])
	case "token":
		err = cmdToken(os.Args[2:])
	case "audit":
		err = cmdAudit(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ccmctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func loadCluster(fs *flag.FlagSet, args []string) (*clusterfile.File, error) {
	path := fs.String("cluster", "cluster.yaml", "Cluster file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return clusterfile.Load(*path)
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 3*time.Second, "Per-node request timeout")
	f, err := loadCluster(fs, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client, err := clientFor(f, "")
	if err != nil {
		return err
	}
	results := pollAll(ctx, client, f)
	c := analyze(results)
	printResults(os.Stdout, results, c)
	if !c.Converged {
		return fmt.Errorf("cluster not converged")
	}
	return nil
}

func cmdWait(args []string) error {
	fs := flag.NewFlagSet("wait", flag.ContinueOnError)
	timeout := fs.Duration("timeout", time.Minute, "Give up after this long")
	interval := fs.Duration("interval", time.Second, "Poll interval")
	f, err := loadCluster(fs, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client, err := clientFor(f, "")
	if err != nil {
		return err
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		pollCtx, pollCancel := context.WithTimeout(ctx, *interval)
		results := pollAll(pollCtx, client, f)
		pollCancel()

		c := analyze(results)
		if c.Converged {
			printResults(os.Stdout, results, c)
			return nil
		}
		fmt.Printf("waiting: %s\n", c.Reason)

		select {
		case <-ctx.Done():
			printResults(os.Stdout, results, c)
			return fmt.Errorf("no convergence within %v", *timeout)
		case <-ticker.C:
		}
	}
}

func cmdLeave(args []string) error {
	fs := flag.NewFlagSet("leave", flag.ContinueOnError)
	node := fs.String("node", "", "Node to remove")
	token := fs.String("token", os.Getenv("CCM_TOKEN"), "Operator token (or set CCM_TOKEN)")
	f, err := loadCluster(fs, args)
	if err != nil {
		return err
	}
	n, err := f.Node(*node)
	if err != nil {
		return err
	}
	if n.Admin == "" {
		return fmt.Errorf("node %s has no admin address", n.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := clientFor(f, *token)
	if err != nil {
		return err
	}
	resp, err := client.leave(ctx, n.Admin)
	if err != nil {
		return err
	}
	if !resp.Accepted {
		return fmt.Errorf("node %s already has a leave pending", resp.Node)
	}
	fmt.Printf("%s: leave accepted\n", resp.Node)
	return nil
}

func cmdToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	role := fs.String("role", auth.RoleViewer, "Token role (viewer or operator)")
	subject := fs.String("subject", os.Getenv("USER"), "Token subject")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	f, err := loadCluster(fs, args)
	if err != nil {
		return err
	}
	if f.Admin.JWTSecret == "" {
		return fmt.Errorf("cluster file has no admin.jwt_secret")
	}

	jwt, err := auth.NewJWTManager(f.Admin.JWTSecret, f.Cluster.Name, *ttl)
	if err != nil {
		return err
	}
	token, err := jwt.GenerateToken(*subject, *role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func cmdAudit(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	node := fs.String("node", "", "Node to query")
	token := fs.String("token", os.Getenv("CCM_TOKEN"), "Operator token (or set CCM_TOKEN)")
	action := fs.String("action", "", "Only this action (leave, auth, membership)")
	limit := fs.Int("limit", 50, "Most recent events to show")
	f, err := loadCluster(fs, args)
	if err != nil {
		return err
	}
	n, err := f.Node(*node)
	if err != nil {
		return err
	}
	if n.Admin == "" {
		return fmt.Errorf("node %s has no admin address", n.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := clientFor(f, *token)
	if err != nil {
		return err
	}
	resp, err := client.audit(ctx, n.Admin, *action, *limit)
	if err != nil {
		return err
	}
	printAudit(os.Stdout, resp)
	return nil
}

func clientFor(f *clusterfile.File, token string) (*client, error) {
	tc, err := f.Admin.ClientTLS()
	if err != nil {
		return nil, err
	}
	return newClient(token, tc), nil
}

func printAudit(w io.Writer, resp *server.AuditResponse) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME	ACTION	STATUS	ACTOR	TARGET	DETAIL")
	for _, e := range resp.Events {
		detail := e.Error
		if detail == "" && len(e.Metadata) > 0 {
			detail = fmt.Sprint(e.Metadata)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Action, e.Status, dash(e.Actor), dash(e.Target), detail)
	}
	tw.Flush()
	fmt.Fprintf(w, "%s: %d shown, %d logged\n", resp.Node, len(resp.Events), resp.Total)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printResults(w io.Writer, results []nodeResult, c convergence) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tSTATE\tTRANSITION\tLEADER\tMEMBERS\tERROR")
	for _, r := range results {
		state, transition, leader, members := "-", "-", "-", "-"
		if r.Resp != nil {
			state = r.Resp.State
			if rep := r.Resp.Report; rep != nil {
				transition = fmt.Sprint(rep.Transition)
				leader = rep.Leader
				members = strings.Join(rep.MemberNames(), ",")
			}
		}
		errText := ""
		if r.Skipped {
			errText = "no admin address"
		} else if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Node, state, transition, leader, members, errText)
	}
	tw.Flush()

	if c.Converged {
		fmt.Fprintf(w, "converged: transition %d, cookie %s, %d members\n", c.Transition, c.Cookie, len(c.Members))
	} else {
		fmt.Fprintf(w, "not converged: %s\n", c.Reason)
	}
}
