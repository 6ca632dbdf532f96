package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inkwell-tools/signsync/pkg/config"
	"github.com/inkwell-tools/signsync/pkg/engine/mapping"
	"github.com/inkwell-tools/signsync/pkg/engine/policy"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the sync configuration and print the resolved tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(cfgFile)
		if err != nil {
			return err
		}

		assignments, err := mapping.BuildAssignments(cfg.UserGroups)
		if err != nil {
			return err
		}
		entitlements, err := mapping.BuildGroupSet(cfg.EntitlementGroups)
		if err != nil {
			return err
		}
		roleMap, err := mapping.BuildRoleMap(cfg.AdminRoles)
		if err != nil {
			return err
		}
		if _, err := policy.Compile(cfg.UserSync.UserFilter); err != nil {
			return err
		}

		fmt.Printf("Configuration OK: %s\n\n", cfgFile)
		fmt.Printf("Orgs: %s\n", strings.Join(sortedOrgs(cfg), ", "))
		fmt.Printf("Identity source: %s (%s)\n", cfg.IdentitySource.Type, cfg.IdentitySource.Connector)
		fmt.Printf("Create new users: %v, deactivate sign-only users: %v\n\n",
			cfg.UserSync.CreateNewUsers, cfg.UserSync.DeactivateSignOnlyUsers)

		for _, org := range sortedOrgs(cfg) {
			fmt.Printf("[%s]\n", org)
			fmt.Printf("  assignment candidates: %v\n", assignments.Candidates(org))
			var entitled []string
			for g := range entitlements[org] {
				entitled = append(entitled, g)
			}
			sort.Strings(entitled)
			fmt.Printf("  entitlement groups:    %v\n", entitled)
			var mapped []string
			for group, roles := range roleMap[org] {
				var names []string
				for role := range roles {
					names = append(names, role)
				}
				sort.Strings(names)
				mapped = append(mapped, fmt.Sprintf("%s -> %s", group, strings.Join(names, ",")))
			}
			sort.Strings(mapped)
			for _, m := range mapped {
				fmt.Printf("  role mapping:          %s\n", m)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func sortedOrgs(cfg *config.File) []string {
	orgs := make([]string, 0, len(cfg.SignOrgs))
	for org := range cfg.SignOrgs {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	return orgs
}
