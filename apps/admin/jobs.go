package main

import (
	"context"
)

func (cli *commandLine) sweep() error {
	res, err := cli.svcs.Subsidies.Sweep(context.Background())
	if err != nil {
		return err
	}
	return cli.print(res)
}

func (cli *commandLine) bonus() error {
	res, err := cli.svcs.Bonus.RunDaily(context.Background())
	if err != nil {
		return err
	}
	return cli.print(res)
}
