package main

import (
	"fmt"
	"log"
	"os"

	"github.com/lherman-cs/bag2mat"
	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetPrefix("bag2mat: ")

	if err := newRootCmd().Execute(); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bag2mat <rosbag>",
		Short:         "Extract IMU, Vicon, odometry and AprilTag data from a rosbag into a mat file",
		Example:       "  bag2mat /data/run1.bag    # writes /data/run1.mat",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				cmd.PrintErrln(cmd.UsageString())
				return fmt.Errorf("%w: please specify a rosbag file", bag2mat.ErrUsage)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Print("Starting up")

			matPath, err := bag2mat.Run(args[0])
			if err != nil {
				return err
			}

			log.Printf("Wrote %s", matPath)
			return nil
		},
	}
	return cmd
}
